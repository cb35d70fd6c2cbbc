// Package config loads the single TOML document that describes a pipeline
// run: LLM profiles, the wit graph, sensors, pipes, the spoken-output
// daemon, and the recall policy
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// searchPathsFunc is overridden in tests to avoid depending on the
// developer's real home directory.
var searchPathsFunc = DefaultSearchPaths

// DefaultSearchPaths returns the config file search order when no explicit
// -config flag is given: ./psyche.toml, ~/.config/psyche/psyche.toml,
// /etc/psyche/psyche.toml.
func DefaultSearchPaths() []string {
	paths := []string{"psyche.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "psyche", "psyche.toml"))
	}
	paths = append(paths, "/etc/psyche/psyche.toml")
	return paths
}

// FindConfig locates the config file. If explicit is non-empty it must
// exist. Otherwise the search path is tried in order and the first existing
// file wins.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range searchPathsFunc() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found (searched: %v)", searchPathsFunc())
}

// LLMProfile is one [llm.<name>] section: an endpoint the fair-streaming
// substrate dispatches to.
type LLMProfile struct {
	Provider      string `toml:"provider"`
	BaseURL       string `toml:"base_url"`
	APIKey        string `toml:"api_key"`
	Model         string `toml:"model"`
	EmbedModel    string `toml:"embed_model"`
	MaxConcurrent int    `toml:"max_concurrent"`
}

// WitConfig is one [wit.<name>] section: a distiller's place in the graph.
type WitConfig struct {
	Input        string `toml:"input"`
	Output       string `toml:"output"`
	Prompt       string `toml:"prompt"`
	Priority     *int   `toml:"priority"`
	BeatMod      int    `toml:"beat_mod"`
	Feedback     string `toml:"feedback"`
	LLM          string `toml:"llm"`
	Postprocess  string `toml:"postprocess"`
	HistoryDepth int    `toml:"history_depth"`
}

// SensorConfig is one [sensor.<name>] section. Kind selects which in-process
// sensor bridge the orchestrator starts for it; an empty Kind means the
// sensor is an external process writing to Socket via the daemon fabric
// , the historical case. "mqtt" and "email" are [DOMAIN]
// additions  wiring MQTT and IMAP
// stacks directly into the sensation bus.
type SensorConfig struct {
	Enabled      bool     `toml:"enabled"`
	Kind         string   `toml:"kind"`
	Socket       string   `toml:"socket"`
	LogLevel     string   `toml:"log_level"`
	WhisperModel string   `toml:"whisper_model"`
	Args         []string `toml:"args"`

	// MQTT fields, used when Kind == "mqtt".
	Broker string   `toml:"broker"`
	Topics []string `toml:"topics"`

	// Email fields, used when Kind == "email".
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	TLS      bool   `toml:"tls"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Folder   string `toml:"folder"`
}

// PipeConfig is one [pipe.<name>] section: a daemon-fabric pipe with
// dependency gating.
type PipeConfig struct {
	Socket    string   `toml:"socket"`
	Path      string   `toml:"path"`
	DependsOn []string `toml:"depends_on"`
}

// SpokenConfig is the [spoken] section: the text-to-speech output daemon's
// connection parameters (the TTS backend itself is an external
// collaborator).
type SpokenConfig struct {
	Socket     string `toml:"socket"`
	TTSURL     string `toml:"tts_url"`
	SpeakerID  string `toml:"speaker_id"`
	LanguageID string `toml:"language_id"`
	LogLevel   string `toml:"log_level"`
}

// RecallConfig is the [policy.recall] section.
type RecallConfig struct {
	Kinds []string `toml:"kinds"`
}

// PolicyConfig is the [policy] section.
type PolicyConfig struct {
	Recall RecallConfig `toml:"recall"`
}

// Config holds a whole pipeline run's configuration. Only the sections
// named in are recognized; Load logs a warning for any other
// top-level key rather than failing (policy/config errors are fatal only
// when they make the config genuinely unusable).
type Config struct {
	LLM      map[string]LLMProfile    `toml:"llm"`
	Wit      map[string]WitConfig     `toml:"wit"`
	Sensor   map[string]SensorConfig  `toml:"sensor"`
	Pipe     map[string]PipeConfig    `toml:"pipe"`
	Spoken   SpokenConfig             `toml:"spoken"`
	Policy   PolicyConfig             `toml:"policy"`
	DataDir  string                   `toml:"data_dir"`
	LogLevel string                   `toml:"log_level"`
}

var recognizedTopLevelKeys = map[string]bool{
	"llm": true, "wit": true, "sensor": true, "pipe": true,
	"spoken": true, "policy": true, "data_dir": true, "log_level": true,
}

// Load reads, expands environment references in, parses, defaults, and
// validates the TOML document at path.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))

	warnUnknownTopLevelKeys(expanded, logger)

	cfg := &Config{}
	if err := toml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// warnUnknownTopLevelKeys decodes expanded into a generic map and logs a
// warning for any top-level key doesn't recognize, without
// failing the load.
func warnUnknownTopLevelKeys(expanded string, logger *slog.Logger) {
	var raw map[string]any
	if err := toml.Unmarshal([]byte(expanded), &raw); err != nil {
		return // the real Unmarshal below will report the parse error
	}
	for k := range raw {
		if !recognizedTopLevelKeys[k] {
			logger.Warn("config: ignoring unrecognized top-level section", "key", k)
		}
	}
}

// applyDefaults fills zero-value fields with sensible defaults so callers
// never need to special-case an empty field after Load returns.
func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	for name, llm := range c.LLM {
		if llm.MaxConcurrent < 1 {
			llm.MaxConcurrent = 1
		}
		if llm.Provider == "" {
			llm.Provider = "ollama"
		}
		c.LLM[name] = llm
	}
	for name, w := range c.Wit {
		if w.BeatMod == 0 && w.Priority == nil {
			w.BeatMod = 1
		}
		c.Wit[name] = w
	}
}

// Validate checks internal consistency: every wit references a known LLM
// profile (or the empty default), every feedback target exists, and no two
// wits declare the same output kind ('s output-kind collision
// check, performed here rather than deferred to the orchestrator since it's
// a pure config-shape property).
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}

	outputs := make(map[string]string, len(c.Wit))
	for name, w := range c.Wit {
		if w.Input == "" {
			return fmt.Errorf("wit %q: input kind is required", name)
		}
		if w.Output == "" {
			return fmt.Errorf("wit %q: output kind is required", name)
		}
		if existing, ok := outputs[w.Output]; ok {
			return fmt.Errorf("wit %q and %q both declare output kind %q", existing, name, w.Output)
		}
		outputs[w.Output] = name

		if w.LLM != "" {
			if _, ok := c.LLM[w.LLM]; !ok {
				return fmt.Errorf("wit %q: llm profile %q not defined", name, w.LLM)
			}
		}
		if w.Feedback != "" {
			if _, ok := c.Wit[w.Feedback]; !ok {
				return fmt.Errorf("wit %q: feedback target %q not defined", name, w.Feedback)
			}
		}
		switch w.Postprocess {
		case "", "none", "first_sentence", "trim":
		default:
			return fmt.Errorf("wit %q: unrecognized postprocess %q", name, w.Postprocess)
		}
	}
	return nil
}
