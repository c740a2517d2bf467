package models

import (
	"fmt"
	"strconv"
)

// VersionOptions selects which version of a definition an operation targets.
type VersionOptions struct {
	Latest    bool
	Published bool
	Version   int
}

var (
	VersionLatest            = VersionOptions{Latest: true}
	VersionPublished         = VersionOptions{Published: true}
	VersionLatestOrPublished = VersionOptions{Latest: true, Published: true}
)

// SpecificVersion selects an exact version number.
func SpecificVersion(version int) VersionOptions {
	return VersionOptions{Version: version}
}

// Matches reports whether the definition is selected by these options.
func (o VersionOptions) Matches(d *WorkflowDefinition) bool {
	switch {
	case o.Latest && o.Published:
		return d.IsLatest || d.IsPublished
	case o.Latest:
		return d.IsLatest
	case o.Published:
		return d.IsPublished
	default:
		return d.Version == o.Version
	}
}

func (o VersionOptions) String() string {
	switch {
	case o.Latest && o.Published:
		return "LatestOrPublished"
	case o.Latest:
		return "Latest"
	case o.Published:
		return "Published"
	default:
		return strconv.Itoa(o.Version)
	}
}

// ParseVersionOptions is the inverse of String. An empty string selects the latest version.
func ParseVersionOptions(s string) (VersionOptions, error) {
	switch s {
	case "", "Latest":
		return VersionLatest, nil
	case "Published":
		return VersionPublished, nil
	case "LatestOrPublished":
		return VersionLatestOrPublished, nil
	}

	version, err := strconv.Atoi(s)
	if err != nil || version < 1 {
		return VersionOptions{}, fmt.Errorf("invalid version options %q", s)
	}

	return SpecificVersion(version), nil
}
