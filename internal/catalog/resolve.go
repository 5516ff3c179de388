package catalog

import (
	"sort"
	"strings"

	"github.com/msageha/docflow/internal/model"
)

// Resolve expands the requested ids with every transitive dependency and
// returns them topologically sorted. Ties are broken by declaration order.
func (c *Catalog) Resolve(requested []string) (model.ExecutionPlan, error) {
	reachable := make(map[string]bool)
	var visit func(id, parent string) error
	visit = func(id, parent string) error {
		if reachable[id] {
			return nil
		}
		def, ok := c.defs[id]
		if !ok {
			return &UnknownDocumentError{ID: id, ReferencedBy: parent}
		}
		reachable[id] = true
		for _, dep := range def.DependsOn {
			if err := visit(dep, id); err != nil {
				return err
			}
		}
		return nil
	}
	for _, raw := range requested {
		id := strings.TrimSpace(raw)
		if err := visit(id, ""); err != nil {
			return nil, err
		}
	}

	nodes := c.sortByDeclaration(reachable)
	sorted, inDegree := c.kahn(nodes)
	if len(sorted) == len(nodes) {
		return model.ExecutionPlan(sorted), nil
	}
	return nil, &CyclicDependencyError{Cycle: c.findCyclePath(nodes, inDegree)}
}

// kahn runs Kahn's algorithm over nodes (already in declaration order). The
// ready set is kept sorted by declaration index so output is deterministic.
func (c *Catalog) kahn(nodes []string) ([]string, map[string]int) {
	inDegree := make(map[string]int, len(nodes))
	forward := make(map[string][]string)
	for _, n := range nodes {
		inDegree[n] = 0
	}
	for _, n := range nodes {
		for _, dep := range uniq(c.defs[n].DependsOn) {
			inDegree[n]++
			forward[dep] = append(forward[dep], n)
		}
	}

	var ready []string
	for _, n := range nodes {
		if inDegree[n] == 0 {
			ready = append(ready, n)
		}
	}

	sorted := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		node := ready[0]
		ready = ready[1:]
		sorted = append(sorted, node)

		for _, dependent := range forward[node] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = c.insertByDeclaration(ready, dependent)
			}
		}
	}
	return sorted, inDegree
}

func (c *Catalog) insertByDeclaration(ready []string, id string) []string {
	i := sort.Search(len(ready), func(i int) bool { return c.index[ready[i]] > c.index[id] })
	ready = append(ready, "")
	copy(ready[i+1:], ready[i:])
	ready[i] = id
	return ready
}

// findCyclePath walks dependency edges from nodes Kahn could not release.
func (c *Catalog) findCyclePath(nodes []string, inDegree map[string]int) []string {
	const (
		white = 0 // unvisited
		gray  = 1 // in current path
		black = 2 // finished
	)

	color := make(map[string]int)
	parent := make(map[string]string)
	var cyclePath []string

	var dfs func(node string) bool
	dfs = func(node string) bool {
		color[node] = gray
		for _, dep := range c.defs[node].DependsOn {
			if color[dep] == gray {
				cyclePath = []string{dep}
				for cur := node; cur != dep; cur = parent[cur] {
					cyclePath = append(cyclePath, cur)
				}
				cyclePath = append(cyclePath, dep)
				for i, j := 0, len(cyclePath)-1; i < j; i, j = i+1, j-1 {
					cyclePath[i], cyclePath[j] = cyclePath[j], cyclePath[i]
				}
				return true
			}
			if color[dep] == white {
				parent[dep] = node
				if dfs(dep) {
					return true
				}
			}
		}
		color[node] = black
		return false
	}

	for _, n := range nodes {
		if inDegree[n] > 0 && color[n] == white {
			if dfs(n) {
				return cyclePath
			}
		}
	}
	return []string{"(cycle detected)"}
}

func uniq(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
