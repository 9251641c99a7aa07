package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailydigest/internal/config"
	"dailydigest/internal/mail"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitConfig, exitCode(&config.ConfigError{Problems: []string{"x"}}))
	assert.Equal(t, exitConfig, exitCode(fmt.Errorf("load: %w", &config.ConfigError{})))
	assert.Equal(t, exitMail, exitCode(&mail.MailError{Op: "send", Err: errors.New("refused")}))
	assert.Equal(t, exitOther, exitCode(errors.New("boom")))
}

func TestMissingConfigIsConfigError(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Equal(t, exitConfig, exitCode(err))
}

func TestInitThenDryRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	out, err := execute(t, "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")

	_, err = execute(t, "init", "--config", path)
	assert.Error(t, err, "refuses to overwrite")

	_, err = execute(t, "init", "--config", path, "--force")
	require.NoError(t, err)

	// Replace the starter with a config that needs no network.
	require.NoError(t, os.WriteFile(path, []byte(`{
	  "digest": {"time_zone": "UTC", "days_ahead": 1},
	  "quote": {"source": "none"},
	  "smtp": {"server": "smtp.example.com", "port": 587},
	  "email": {"from": "digest@example.com", "to": ["me@example.com"]}
	}`), 0o600))

	out, err = execute(t, "--config", path, "--dry-run", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, `data-ready="true"`)
	assert.Contains(t, out, "Weather unavailable.")

	htmlPath := filepath.Join(dir, "digest.html")
	_, err = execute(t, "--config", path, "--dry-run", "--out", htmlPath)
	require.NoError(t, err)
	data, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Motivation")
}

func TestBadLogLevel(t *testing.T) {
	_, err := execute(t, "version", "--log-level", "loud")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "digest dev\n", out)
}

func TestParseBasicAuth(t *testing.T) {
	opts, err := parseBasicAuth("")
	require.NoError(t, err)
	assert.Empty(t, opts.Username)

	opts, err = parseBasicAuth("me:p:w")
	require.NoError(t, err)
	assert.Equal(t, "me", opts.Username)
	assert.Equal(t, "p:w", opts.Password)

	for _, bad := range []string{"nopass", ":pw", "me:"} {
		_, err := parseBasicAuth(bad)
		assert.Error(t, err, bad)
	}
}
