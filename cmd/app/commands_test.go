package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestStressCommandRunsBattery(t *testing.T) {
	out, err := run(t, "stress", "--msi", "80", "--crs", "20", "--anomaly-rate", "0.05", "--trust", "AAPL=85,MSFT=75")
	require.NoError(t, err)

	var reports []struct {
		Scenario  string  `json:"scenario_type"`
		Delta     float64 `json:"delta_msi"`
		Fragility string  `json:"fragility_classification"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	assert.Len(t, reports, 9)
	for _, r := range reports {
		assert.NotEmpty(t, r.Scenario)
		assert.NotEmpty(t, r.Fragility)
	}
}

func TestStressCommandRejectsBadBaseline(t *testing.T) {
	_, err := run(t, "stress", "--msi", "140", "--trust", "AAPL=85")
	assert.Error(t, err)

	_, err = run(t, "stress", "--trust", "AAPL=high")
	assert.ErrorContains(t, err, "AAPL")

	_, err = run(t, "stress")
	assert.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: test
symbols: [AAPL, MSFT]
audit:
  enabled: false
engines:
  action:
    stable_threshold: 85
`), 0o600))

	out, err := run(t, "validate", "--config", path)
	require.NoError(t, err)
	var got struct {
		Backend string   `json:"backend"`
		Symbols []string `json:"symbols"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "none", got.Backend)
	assert.Equal(t, []string{"AAPL", "MSFT"}, got.Symbols)
	assert.Contains(t, out, "85")

	_, err = run(t, "validate", "--config", filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
