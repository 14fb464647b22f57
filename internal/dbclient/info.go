package dbclient

import (
	"strconv"
	"strings"
)

// InfoSnapshot is a parsed INFO response, section → field → raw string.
type InfoSnapshot map[string]map[string]string

// ParseInfo parses the text of an INFO reply. Section headers look like
// "# Server"; fields are "name:value" lines. Unsectioned fields land in "".
func ParseInfo(raw string) InfoSnapshot {
	snap := InfoSnapshot{}
	section := ""

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			section = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "#")))
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		if snap[section] == nil {
			snap[section] = map[string]string{}
		}
		snap[section][line[:idx]] = line[idx+1:]
	}

	return snap
}

// Flatten collapses the snapshot into field → value. Field names are
// unique across INFO sections in practice; last section wins otherwise.
func (s InfoSnapshot) Flatten() map[string]string {
	flat := make(map[string]string, 64)
	for _, fields := range s {
		for k, v := range fields {
			flat[k] = v
		}
	}
	return flat
}

// Field looks a field up across all sections.
func (s InfoSnapshot) Field(name string) (string, bool) {
	for _, fields := range s {
		if v, ok := fields[name]; ok {
			return v, true
		}
	}
	return "", false
}

// FieldFloat looks a numeric field up across all sections.
func (s InfoSnapshot) FieldFloat(name string) (float64, bool) {
	raw, ok := s.Field(name)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
