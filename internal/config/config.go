package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"saberforge/internal/beatsage"
	"saberforge/internal/pipeline"
)

// Audio container extensions the batch considers. The generation service
// transcodes server-side, so anything it accepts is listed here.
var allowedExtensions = []string{
	".opus", ".flac", ".webm", ".weba", ".wav", ".ogg",
	".m4a", ".mp3", ".oga", ".mid", ".amr", ".aac", ".wma",
}

const (
	defaultDifficulties  = "Hard,Expert,ExpertPlus,Normal"
	defaultModes         = "Standard,90Degree,NoArrows,OneSaber"
	defaultEvents        = "DotBlocks,Obstacles,Bombs"
	defaultEnvironment   = "DefaultEnvironment"
	defaultModelTag      = "v2"
	defaultWatchDebounce = 2 * time.Second
)

// Settings is the resolved configuration for one invocation: hard
// defaults, then the optional YAML file, then environment variables, with
// command-line flags layered on last by the caller.
type Settings struct {
	BaseURL         string
	Difficulties    string
	Modes           string
	Events          string
	Environment     string
	ModelTag        string
	PollInterval    time.Duration
	MaxPollAttempts int
	MaxUploadBytes  int64
	MaxDuration     time.Duration
	WatchDebounce   time.Duration
	HistoryPath     string
	CookieFile      string
}

type settingsYAML struct {
	BaseURL            string `yaml:"base_url"`
	Difficulties       string `yaml:"difficulties"`
	Modes              string `yaml:"modes"`
	Events             string `yaml:"events"`
	Environment        string `yaml:"environment"`
	ModelTag           string `yaml:"model_tag"`
	PollIntervalSec    int    `yaml:"poll_interval_seconds"`
	MaxPollAttempts    int    `yaml:"max_poll_attempts"`
	MaxUploadMB        int    `yaml:"max_upload_mb"`
	MaxDurationMinutes int    `yaml:"max_duration_minutes"`
	WatchDebounceMS    int    `yaml:"watch_debounce_ms"`
	HistoryPath        string `yaml:"history_path"`
	CookieFile         string `yaml:"cookie_file"`
}

// AllowedExtensions returns the supported audio extensions (lowercase).
func AllowedExtensions() []string {
	result := make([]string, len(allowedExtensions))
	copy(result, allowedExtensions)
	return result
}

// Defaults returns settings matching the public service's limits.
func Defaults() Settings {
	return Settings{
		BaseURL:         beatsage.DefaultBaseURL,
		Difficulties:    defaultDifficulties,
		Modes:           defaultModes,
		Events:          defaultEvents,
		Environment:     defaultEnvironment,
		ModelTag:        defaultModelTag,
		PollInterval:    pipeline.DefaultPollInterval,
		MaxPollAttempts: pipeline.DefaultMaxPollAttempts,
		MaxUploadBytes:  pipeline.DefaultMaxUploadBytes,
		MaxDuration:     pipeline.DefaultMaxDuration,
		WatchDebounce:   defaultWatchDebounce,
	}
}

// Load resolves settings. When configPath is empty the SABERFORGE_CONFIG
// environment variable is consulted; a path named there must exist, while
// no path at all simply means defaults plus environment overrides.
func Load(configPath string) (Settings, error) {
	settings := Defaults()

	if configPath == "" {
		configPath = strings.TrimSpace(os.Getenv("SABERFORGE_CONFIG"))
	}
	if configPath != "" {
		resolved, err := resolvePath(configPath)
		if err != nil {
			return Settings{}, err
		}
		if err := applyYAML(&settings, resolved); err != nil {
			return Settings{}, err
		}
	}

	applyEnv(&settings)
	return settings, nil
}

func applyYAML(settings *Settings, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var raw settingsYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&settings.BaseURL, raw.BaseURL)
	setString(&settings.Difficulties, raw.Difficulties)
	setString(&settings.Modes, raw.Modes)
	setString(&settings.Events, raw.Events)
	setString(&settings.Environment, raw.Environment)
	setString(&settings.ModelTag, raw.ModelTag)
	setString(&settings.HistoryPath, raw.HistoryPath)
	setString(&settings.CookieFile, raw.CookieFile)

	if raw.PollIntervalSec > 0 {
		settings.PollInterval = time.Duration(raw.PollIntervalSec) * time.Second
	}
	if raw.MaxPollAttempts > 0 {
		settings.MaxPollAttempts = raw.MaxPollAttempts
	}
	if raw.MaxUploadMB != 0 {
		settings.MaxUploadBytes = int64(raw.MaxUploadMB) << 20
	}
	if raw.MaxDurationMinutes != 0 {
		settings.MaxDuration = time.Duration(raw.MaxDurationMinutes) * time.Minute
	}
	if raw.WatchDebounceMS > 0 {
		settings.WatchDebounce = time.Duration(raw.WatchDebounceMS) * time.Millisecond
	}
	return nil
}

func applyEnv(settings *Settings) {
	setString(&settings.BaseURL, os.Getenv("SABERFORGE_BASE_URL"))
	setString(&settings.Difficulties, os.Getenv("SABERFORGE_DIFFICULTIES"))
	setString(&settings.Modes, os.Getenv("SABERFORGE_MODES"))
	setString(&settings.Events, os.Getenv("SABERFORGE_EVENTS"))
	setString(&settings.Environment, os.Getenv("SABERFORGE_ENVIRONMENT"))
	setString(&settings.ModelTag, os.Getenv("SABERFORGE_MODEL_TAG"))
	setString(&settings.HistoryPath, os.Getenv("SABERFORGE_HISTORY_PATH"))
	setString(&settings.CookieFile, os.Getenv("SABERFORGE_COOKIE_FILE"))

	if ms := envInt("SABERFORGE_POLL_INTERVAL_MS"); ms > 0 {
		settings.PollInterval = time.Duration(ms) * time.Millisecond
	}
	if attempts := envInt("SABERFORGE_MAX_POLL_ATTEMPTS"); attempts > 0 {
		settings.MaxPollAttempts = attempts
	}
}

// ResolveHistoryPath returns the ledger location, creating its parent
// directory. An explicitly configured path wins; otherwise the ledger
// lives under the user's config directory.
func ResolveHistoryPath(configured string) (string, error) {
	path := strings.TrimSpace(configured)
	if path == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("locate user config directory: %w", err)
		}
		path = filepath.Join(base, "saberforge", "history.db")
	}

	resolved, err := resolvePath(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", err
	}
	return resolved, nil
}

func resolvePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return filepath.Abs(path)
}

func setString(dst *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*dst = trimmed
	}
}

func envInt(key string) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return 0
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return n
}
