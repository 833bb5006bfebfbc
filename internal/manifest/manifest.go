package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/matdotcx/carrus/internal/builder"
	"github.com/matdotcx/carrus/internal/codesign"
)

var (
	errMissingName        = errors.New("manifest name is required")
	errAuthorityNotQuoted = errors.New(`signing authority must be a string; quote entries containing ": "`)
)

// Manifest describes one package. Only the parts the pipelines consume are decoded.
type Manifest struct {
	Name     string `yaml:"name"`
	Version  string `yaml:"version"`
	Type     string `yaml:"type"`
	URL      string `yaml:"url"`
	Checksum string `yaml:"checksum"`
	Filename string `yaml:"filename"`

	CodeSign *CodeSign        `yaml:"code_sign"`
	Build    *builder.Options `yaml:"build"`
}

// CodeSign holds signing requirements. RequireNotarized defaults to true when omitted.
// Authority names contain ": " and must be quoted in YAML, for example
// "Developer ID Application: Mozilla Corporation (43AQ936H96)".
type CodeSign struct {
	TeamID           string        `yaml:"team_id"`
	RequireNotarized *bool         `yaml:"require_notarized"`
	Authorities      authorityList `yaml:"authorities"`
}

// authorityList rejects unquoted entries that YAML would read as mappings.
type authorityList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *authorityList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: authorities must be a list", node.Line)
	}

	list := make(authorityList, 0, len(node.Content))

	for _, item := range node.Content {
		if item.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: %w", item.Line, errAuthorityNotQuoted)
		}

		list = append(list, item.Value)
	}

	*l = list

	return nil
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	m := new(Manifest)
	if err = yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	if strings.TrimSpace(m.Name) == "" {
		return nil, fmt.Errorf("%s: %w", path, errMissingName)
	}

	return m, nil
}

// Policy returns the signing policy. Without a code_sign section nothing beyond
// a valid signature is required.
func (m *Manifest) Policy() codesign.Policy {
	if m == nil || m.CodeSign == nil {
		return codesign.Policy{}
	}

	requireNotarized := true
	if m.CodeSign.RequireNotarized != nil {
		requireNotarized = *m.CodeSign.RequireNotarized
	}

	return codesign.Policy{
		RequiredTeamID:      m.CodeSign.TeamID,
		RequireNotarized:    requireNotarized,
		RequiredAuthorities: append([]string(nil), m.CodeSign.Authorities...),
	}
}

// BuildOptions returns the build section, or nil without one. The top-level
// checksum applies when the build section has none of its own.
func (m *Manifest) BuildOptions() *builder.Options {
	if m == nil || m.Build == nil {
		return nil
	}

	opts := *m.Build
	if opts.Checksum == "" {
		opts.Checksum = m.Checksum
	}

	return &opts
}
