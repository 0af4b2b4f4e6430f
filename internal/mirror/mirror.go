// Package mirror identifies the redundant sync-job locations the relay
// dispatches to and reads status from.
package mirror

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidMirror = errors.New("invalid mirror")

// Mirror is an owner/name repository location. Comparison is exact; two
// mirrors with the same owner and name are the same mirror.
type Mirror struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

func Parse(raw string) (Mirror, error) {
	raw = strings.Trim(strings.TrimSpace(raw), "/")
	owner, name, ok := strings.Cut(raw, "/")
	owner = strings.TrimSpace(owner)
	name = strings.TrimSpace(name)
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Mirror{}, fmt.Errorf("%w: %q", ErrInvalidMirror, raw)
	}
	return Mirror{Owner: owner, Name: name}, nil
}

// ParseList parses every entry and returns the deduplicated set in first-seen
// order. Blank entries are skipped.
func ParseList(raw []string) ([]Mirror, error) {
	out := make([]Mirror, 0, len(raw))
	for _, item := range raw {
		if strings.TrimSpace(item) == "" {
			continue
		}
		m, err := Parse(item)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return Dedupe(out), nil
}

func (m Mirror) String() string {
	return m.Owner + "/" + m.Name
}

func (m Mirror) IsZero() bool {
	return m.Owner == "" && m.Name == ""
}

// Dedupe collapses identical mirrors, keeping the first occurrence.
func Dedupe(mirrors []Mirror) []Mirror {
	seen := make(map[Mirror]struct{}, len(mirrors))
	out := make([]Mirror, 0, len(mirrors))
	for _, m := range mirrors {
		if m.IsZero() {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

func Strings(mirrors []Mirror) []string {
	out := make([]string, 0, len(mirrors))
	for _, m := range mirrors {
		out = append(out, m.String())
	}
	return out
}
