package builder

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultDestination is where bundles are installed when no destination is given.
const DefaultDestination = "/Applications"

// BuildType names a kind of source artifact.
type BuildType string

// Known build types. Only AppDMG has a builder.
const (
	AppDMG BuildType = "app_dmg"
	AppPKG BuildType = "app_pkg"
	AppZIP BuildType = "app_zip"
	PKG    BuildType = "pkg"
	Manual BuildType = "manual"
)

// DefaultBuildType is used when the caller leaves the type empty.
const DefaultBuildType = AppDMG

// ErrUnsupportedBuildType is returned for build types without a builder.
var ErrUnsupportedBuildType = errors.New("unsupported build type")

// ParseBuildType maps a manifest tag to a BuildType that has a builder.
func ParseBuildType(tag string) (BuildType, error) {
	t := BuildType(strings.ToLower(strings.TrimSpace(tag)))

	switch t {
	case AppDMG:
		return t, nil
	case AppPKG, AppZIP, PKG, Manual:
		return t, fmt.Errorf("%w: %s", ErrUnsupportedBuildType, t)
	default:
		return "", fmt.Errorf("invalid build type %q: %w", tag, ErrUnsupportedBuildType)
	}
}

// Options is the build configuration for one pipeline run.
type Options struct {
	// BuildType is the build kind tag. Defaults to app_dmg.
	BuildType string `yaml:"type"`
	// Destination is the directory the bundle is copied into. Defaults to /Applications.
	Destination string `yaml:"destination"`
	// PreserveTemp keeps every tracked temporary path after the run.
	PreserveTemp bool `yaml:"preserve_temp"`
	// Checksum is an optional hex SHA-256 digest the source must match.
	Checksum string `yaml:"checksum"`
}

// ResolveOptions returns a copy of opts with defaults applied. A nil opts
// yields the defaults.
func ResolveOptions(opts *Options) Options {
	var resolved Options
	if opts != nil {
		resolved = *opts
	}

	resolved.BuildType = strings.TrimSpace(resolved.BuildType)
	if resolved.BuildType == "" {
		resolved.BuildType = string(DefaultBuildType)
	}

	resolved.Destination = strings.TrimSpace(resolved.Destination)
	if resolved.Destination == "" {
		resolved.Destination = DefaultDestination
	}

	resolved.Checksum = strings.TrimSpace(resolved.Checksum)

	return resolved
}
