// Package templates embeds the files written by docflow init.
package templates

import "embed"

//go:embed docflow.yaml catalog.yaml example_request.yaml
var FS embed.FS
