package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type IDType string

const (
	IDTypeRun   IDType = "run"
	IDTypeEvent IDType = "evt"
)

var validIDTypes = map[IDType]bool{
	IDTypeRun:   true,
	IDTypeEvent: true,
}

var idRegex = regexp.MustCompile(`^(run|evt)_[0-9]{10}_[0-9a-f]{8}$`)

// GenerateID returns "<type>_<unix seconds>_<8 hex>" with the suffix taken from a random UUID.
func GenerateID(idType IDType) (string, error) {
	if !validIDTypes[idType] {
		return "", fmt.Errorf("invalid ID type: %s", idType)
	}

	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate uuid: %w", err)
	}
	suffix := strings.ReplaceAll(u.String(), "-", "")[:8]

	return fmt.Sprintf("%s_%010d_%s", idType, time.Now().Unix(), suffix), nil
}

func ValidateID(id string) bool {
	return idRegex.MatchString(id)
}

func ParseIDType(id string) (IDType, error) {
	if !ValidateID(id) {
		return "", fmt.Errorf("invalid ID format: %s", id)
	}
	match := idRegex.FindStringSubmatch(id)
	return IDType(match[1]), nil
}

func ParseIDTimestamp(id string) (time.Time, error) {
	if !ValidateID(id) {
		return time.Time{}, fmt.Errorf("invalid ID format: %s", id)
	}
	tsStr := id[len(id)-19 : len(id)-9]
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp from ID %s: %w", id, err)
	}
	return time.Unix(ts, 0), nil
}
