package config

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// ErrNoMatchingVersion is returned when no available version satisfies the
// requested expression.
type ErrNoMatchingVersion struct {
	Want      string
	Available []string
}

func (e ErrNoMatchingVersion) Error() string {
	return fmt.Sprintf("no version matching %q among %v", e.Want, e.Available)
}

// ResolveVersion selects a concrete version from the available set.
// An exact version must match exactly; a SemVer range selects the highest
// satisfying version; "latest" (or empty) selects the highest published
// version. Unparsable entries in available are ignored.
func ResolveVersion(want string, available []string) (string, error) {
	if len(available) == 0 {
		return "", ErrNoMatchingVersion{Want: want, Available: available}
	}

	parsed := make([]*semver.Version, 0, len(available))
	byString := make(map[string]string, len(available))
	for _, raw := range available {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		parsed = append(parsed, v)
		byString[v.String()] = raw
	}
	sort.Sort(semver.Collection(parsed))

	if want == "" || want == "latest" {
		if len(parsed) == 0 {
			return "", ErrNoMatchingVersion{Want: want, Available: available}
		}
		return byString[parsed[len(parsed)-1].String()], nil
	}

	if exactVersionPattern.MatchString(want) {
		for _, raw := range available {
			if raw == want {
				return raw, nil
			}
		}
		return "", ErrNoMatchingVersion{Want: want, Available: available}
	}

	constraint, err := semver.NewConstraint(want)
	if err != nil {
		return "", fmt.Errorf("invalid version expression %q: %w", want, err)
	}

	// Highest first.
	for i := len(parsed) - 1; i >= 0; i-- {
		if constraint.Check(parsed[i]) {
			return byString[parsed[i].String()], nil
		}
	}
	return "", ErrNoMatchingVersion{Want: want, Available: available}
}
