package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matdotcx/carrus/internal/builder"
	"github.com/matdotcx/carrus/internal/codesign"
)

// writeManifest stores contents in a temporary manifest file.
func writeManifest(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "firefox.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

// TestLoad_FullManifest checks the build and code_sign sections are mapped.
func TestLoad_FullManifest(t *testing.T) {
	t.Parallel()

	path := writeManifest(t, `
name: Firefox
version: "120.0"
type: firefox
url: https://download.mozilla.org/firefox.dmg
checksum: 4a5b
code_sign:
  team_id: 43AQ936H96
  authorities:
    - "Developer ID Application: Mozilla Corporation (43AQ936H96)"
build:
  type: app_dmg
  destination: /opt/Applications
  preserve_temp: true
`)

	m, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "Firefox", m.Name)

	require.Equal(t, codesign.Policy{
		RequiredTeamID:      "43AQ936H96",
		RequireNotarized:    true,
		RequiredAuthorities: []string{"Developer ID Application: Mozilla Corporation (43AQ936H96)"},
	}, m.Policy())

	require.Equal(t, &builder.Options{
		BuildType:    "app_dmg",
		Destination:  "/opt/Applications",
		PreserveTemp: true,
		Checksum:     "4a5b",
	}, m.BuildOptions())
}

// TestLoad_OptionalSections verifies missing sections yield permissive defaults.
func TestLoad_OptionalSections(t *testing.T) {
	t.Parallel()

	m, err := Load(writeManifest(t, "name: Tool\ncode_sign:\n  require_notarized: false\n"))
	require.NoError(t, err)
	require.Nil(t, m.BuildOptions())
	require.Equal(t, codesign.Policy{}, m.Policy())

	var missing *Manifest
	require.Equal(t, codesign.Policy{}, missing.Policy())
}

// TestLoad_Errors checks unreadable, malformed and nameless manifests fail.
func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)

	_, err = Load(writeManifest(t, "name: [unterminated"))
	require.ErrorContains(t, err, "parse manifest")

	_, err = Load(writeManifest(t, "version: '1.0'\n"))
	require.ErrorIs(t, err, errMissingName)
}

// TestLoad_UnquotedAuthority checks an unquoted authority gets an actionable error.
func TestLoad_UnquotedAuthority(t *testing.T) {
	t.Parallel()

	_, err := Load(writeManifest(t, `
name: Firefox
code_sign:
  authorities:
    - Developer ID Application: Mozilla Corporation (43AQ936H96)
`))
	require.ErrorIs(t, err, errAuthorityNotQuoted)
	require.ErrorContains(t, err, "line 5")

	_, err = Load(writeManifest(t, "name: Firefox\ncode_sign:\n  authorities: single\n"))
	require.ErrorContains(t, err, "authorities must be a list")
}
