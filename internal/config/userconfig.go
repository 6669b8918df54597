package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// UserConfig is the machine-local `~/.config/stacy/config.toml` (spec §6:
// "never committed to version control").
type UserConfig struct {
	StataBinary string `toml:"stata_binary"`
	UpdateCheck bool   `toml:"update_check"`
}

// DefaultUserConfig mirrors the original implementation's defaults.
func DefaultUserConfig() *UserConfig {
	return &UserConfig{UpdateCheck: true}
}

// UserConfigPath resolves the OS-standard config path, the same way the
// teacher's userConfigPath does for its own config.json.
func UserConfigPath() (string, error) {
	path, err := xdg.ConfigFile(filepath.Join("stacy", "config.toml"))
	if err != nil {
		return "", fmt.Errorf("resolving user config path: %w", err)
	}
	return path, nil
}

// ReadUserConfigFile loads the user config, returning DefaultUserConfig()
// if the file does not exist (matching the teacher's ReadConfigFile
// "missing file is not an error" behavior).
func ReadUserConfigFile(fsys afero.Fs, path string) (*UserConfig, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultUserConfig(), nil
		}
		return nil, fmt.Errorf("reading user config %s: %w", path, err)
	}
	cfg := DefaultUserConfig()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing user config %s: %w", path, err)
	}
	return cfg, nil
}

// WriteUserConfigFile writes cfg atomically: a sibling temp file, then
// rename over the destination (same discipline as internal/lockfile.Save).
func WriteUserConfigFile(fsys afero.Fs, path string, cfg *UserConfig) error {
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating user config dir: %w", err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding user config: %w", err)
	}
	tmp := fmt.Sprintf("%s.tmp.%d", path, time.Now().UnixNano())
	if err := afero.WriteFile(fsys, tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing user config: %w", err)
	}
	if err := fsys.Rename(tmp, path); err != nil {
		fsys.Remove(tmp)
		return fmt.Errorf("renaming user config into place: %w", err)
	}
	return nil
}

// EngineBinary resolves the engine binary path honoring the teacher's
// flags > env > file > default precedence (cli/internal/config.go's
// ParseAndValidate), overlaying STATA_BINARY/STATA_ENGINE via viper atop
// the parsed user config. An empty result means "fall back to the
// caller-supplied auto-discovery search," which is out of scope here (spec
// §1 Non-goals list "the engine-binary auto-discovery search of well-known
// install paths" as an external collaborator's contract).
func EngineBinary(flagValue string, userCfg *UserConfig) string {
	if flagValue != "" {
		return flagValue
	}

	v := viper.New()
	v.SetEnvPrefix("STACY")
	v.AutomaticEnv()
	_ = v.BindEnv("engine_binary", "STATA_BINARY")
	if v.GetString("engine_binary") != "" {
		return v.GetString("engine_binary")
	}
	if env := os.Getenv("STATA_ENGINE"); env != "" {
		return env
	}

	if userCfg != nil && userCfg.StataBinary != "" {
		return userCfg.StataBinary
	}
	return ""
}

// IsCI reports whether we're running under a recognized CI environment,
// the same env-vars the teacher's config.IsCI checks (spec §6 "Environment
// variables consumed": CI, GITHUB_ACTIONS).
func IsCI() bool {
	return os.Getenv("CI") != "" || os.Getenv("GITHUB_ACTIONS") != ""
}

// UpdateCheckDisabled honors the STACY_NO_UPDATE_CHECK environment variable
// alongside the user config's update_check flag (spec §6). No other
// `*_NO_UPDATE_CHECK` name is checked.
func UpdateCheckDisabled(userCfg *UserConfig) bool {
	if os.Getenv("STACY_NO_UPDATE_CHECK") != "" {
		return true
	}
	return userCfg != nil && !userCfg.UpdateCheck
}
