// Package testutils provides helpers shared by the tests of the module.
package testutils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// UpdateGoldenEnv is the environment variable which, set to a non-empty value, rewrites golden files.
const UpdateGoldenEnv = "TESTS_UPDATE_GOLDEN"

// GoldenPath returns the golden file of the current test: testdata/golden/<test name>.yaml.
func GoldenPath(t *testing.T) string {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), " ", "_")
	return filepath.Join("testdata", "golden", filepath.FromSlash(name)+".yaml")
}

// LoadWithUpdateFromGoldenYAML loads the golden file of the current test into a value of the type of got.
// When TESTS_UPDATE_GOLDEN is set, got is written to the golden file first.
// Golden files are compared by content, not by formatting.
func LoadWithUpdateFromGoldenYAML[T any](t *testing.T, got T) T {
	t.Helper()
	path := GoldenPath(t)

	if os.Getenv(UpdateGoldenEnv) != "" {
		t.Logf("updating golden file %s", path)
		data, err := yaml.Marshal(got)
		require.NoError(t, err, "Cannot marshal golden content")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750), "Cannot create golden directory")
		require.NoError(t, os.WriteFile(path, data, 0600), "Cannot write golden file")
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err, "Cannot read golden file %s", path)

	var want T
	require.NoError(t, yaml.Unmarshal(data, &want), "Cannot unmarshal golden file %s", path)
	return want
}
