package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// StarterConfig is DefaultConfig with placeholder values a user edits after
// `digest init`.
func StarterConfig() *Config {
	cfg := DefaultConfig()
	cfg.Digest.GreetingName = "there"
	cfg.Calendar.ICSURLs = []string{"webcal://p01-caldav.icloud.com/published/2/REPLACE_ME"}
	cfg.Reminders.JSONPath = "reminders.json"
	cfg.Weather.APIKey = "REPLACE_ME"
	cfg.Weather.Lat = 40.7128
	cfg.Weather.Lon = -74.0060
	cfg.SMTP.Server = "smtp.gmail.com"
	cfg.SMTP.Username = "you@example.com"
	cfg.SMTP.Password = "app-password"
	cfg.Email.From = "you@example.com"
	cfg.Email.To = []string{"you@example.com"}
	return cfg
}

// Save writes cfg to path as YAML (.yaml/.yml) or JSON (anything else).
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600, since the file holds SMTP
//     credentials.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := marshalFor(path, cfg)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".digest-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

func marshalFor(path string, cfg *Config) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	default:
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
}
