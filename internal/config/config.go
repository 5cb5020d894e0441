// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads morph's YAML configuration.
//
// A Config starts from [Default], is overlaid with the YAML file (default
// morph.yaml) and then with environment variables, and is finally checked by
// [Config.Validate]. Durations are written as Go duration strings ("5s",
// "30m").
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

	"github.com/kraklabs/morph/pkg/extract"
	"github.com/kraklabs/morph/pkg/model"
)

// DefaultPath is the configuration file used when none is given.
const DefaultPath = "morph.yaml"

// Duration is a time.Duration that reads and writes YAML duration strings.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, s)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the full configuration of a morph process.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Workspace   WorkspaceConfig   `yaml:"workspace"`
	Processor   ProcessorConfig   `yaml:"processor"`
	Extractor   extract.Policy    `yaml:"extractor"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Generation  GenerationConfig  `yaml:"generation"`
	Deadlines   DeadlinesConfig   `yaml:"deadlines"`
	Events      EventsConfig      `yaml:"events"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite (empty means ~/.morph/data/morph.db)
	// and a connection string for postgres.
	DSN string `yaml:"dsn,omitempty"`
}

type WorkspaceConfig struct {
	// Root holds one directory per session. Empty means ~/.morph/workspaces.
	Root string `yaml:"root,omitempty"`
	// StaleAfter is the age after which unowned workspaces are swept.
	StaleAfter Duration `yaml:"staleAfter"`
}

type ProcessorConfig struct {
	MaxConcurrentJobs   int      `yaml:"maxConcurrentJobs"`
	PollInterval        Duration `yaml:"pollInterval"`
	StaleClaimTimeout   Duration `yaml:"staleClaimTimeout"`
	DownloadConcurrency int      `yaml:"downloadConcurrency"`
	// IOFailureRatio is the share of failed downloads that fails the job.
	IOFailureRatio    float64  `yaml:"ioFailureRatio"`
	CancelGrace       Duration `yaml:"cancelGrace"`
	HeartbeatInterval Duration `yaml:"heartbeatInterval,omitempty"`
}

type ChunkerConfig struct {
	// ChunkableTypesByLanguage restricts emitted chunk types per language.
	// Languages not listed emit every type.
	ChunkableTypesByLanguage map[string][]string `yaml:"chunkableTypesByLanguage,omitempty"`
}

type EmbeddingConfig struct {
	// Provider is "openai", "ollama" or "mock".
	Provider           string   `yaml:"provider"`
	BaseURL            string   `yaml:"baseURL,omitempty"`
	Model              string   `yaml:"model,omitempty"`
	BatchSize          int      `yaml:"batchSize"`
	InterDelay         Duration `yaml:"interDelay"`
	Concurrency        int      `yaml:"concurrency"`
	MaxAttempts        int      `yaml:"maxAttempts"`
	Dimension          int      `yaml:"dimension"`
	AllowDummyFallback bool     `yaml:"allowDummyFallback"`
	RequestsPerSecond  float64  `yaml:"requestsPerSecond,omitempty"`
	MaxInputChars      int      `yaml:"maxInputChars"`
}

type CredentialsConfig struct {
	// EmbeddingPool is the ordered list of embedding API keys.
	EmbeddingPool []string `yaml:"embeddingPool,omitempty"`
}

type RetrievalConfig struct {
	DefaultK         int     `yaml:"defaultK"`
	DefaultThreshold float64 `yaml:"defaultThreshold"`
	// NeighborCap bounds the same-file chunks added around each hit.
	NeighborCap    int  `yaml:"neighborCap"`
	FallbackToTopK bool `yaml:"fallbackToTopK"`
}

type GenerationConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"baseURL,omitempty"`
	Model       string  `yaml:"model,omitempty"`
	APIKey      string  `yaml:"apiKey,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"maxTokens,omitempty"`
}

type DeadlinesConfig struct {
	Download   Duration `yaml:"download"`
	Embedding  Duration `yaml:"embedding"`
	Generation Duration `yaml:"generation"`
}

type EventsConfig struct {
	// Driver is "memory" or "redis".
	Driver    string `yaml:"driver"`
	RedisAddr string `yaml:"redisAddr,omitempty"`
	Channel   string `yaml:"channel,omitempty"`
}

type TelemetryConfig struct {
	// Exporter is "none", "stdout" or "otlphttp".
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint,omitempty"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

type MetricsConfig struct {
	// Addr serves /metrics when non-empty, e.g. ":9464".
	Addr string `yaml:"addr,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database:  DatabaseConfig{Driver: "sqlite"},
		Workspace: WorkspaceConfig{StaleAfter: Duration(time.Hour)},
		Processor: ProcessorConfig{
			MaxConcurrentJobs:   2,
			PollInterval:        Duration(5 * time.Second),
			StaleClaimTimeout:   Duration(30 * time.Minute),
			DownloadConcurrency: 4,
			IOFailureRatio:      0.25,
			CancelGrace:         Duration(5 * time.Second),
		},
		Extractor: extract.DefaultPolicy(),
		Embedding: EmbeddingConfig{
			Provider:           "openai",
			BatchSize:          5,
			InterDelay:         Duration(200 * time.Millisecond),
			Concurrency:        5,
			MaxAttempts:        3,
			AllowDummyFallback: true,
			MaxInputChars:      8000,
		},
		Retrieval: RetrievalConfig{
			DefaultK:         20,
			DefaultThreshold: 0.7,
			NeighborCap:      3,
			FallbackToTopK:   true,
		},
		Generation: GenerationConfig{Provider: "openai", Model: "gpt-4o-mini"},
		Deadlines: DeadlinesConfig{
			Download:   Duration(30 * time.Second),
			Embedding:  Duration(60 * time.Second),
			Generation: Duration(180 * time.Second),
		},
		Events:    EventsConfig{Driver: "memory"},
		Telemetry: TelemetryConfig{Exporter: "none", SampleRatio: 1},
	}
}

// HeartbeatInterval returns the configured interval, or a third of the
// stale claim timeout.
func (c *Config) HeartbeatInterval() time.Duration {
	if c.Processor.HeartbeatInterval > 0 {
		return c.Processor.HeartbeatInterval.Std()
	}
	return c.Processor.StaleClaimTimeout.Std() / 3
}

// ErrNotFound is returned by Load when an explicitly named file is missing.
var ErrNotFound = errors.New("config file not found")

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path reads DefaultPath if it exists and
// otherwise uses the defaults alone.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating parent directories.
func Save(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	header := "# morph configuration\n# Durations use Go syntax: 200ms, 5s, 30m.\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables read through lookup.
//
//   - MORPH_DATABASE_DRIVER, MORPH_DATABASE_DSN
//   - MORPH_WORKSPACE_ROOT
//   - MORPH_EMBEDDING_KEYS: comma-separated embedding pool
//   - OPENAI_API_KEY: embedding pool when none is set, and generation key
//   - MORPH_REDIS_ADDR: switches events to redis
//   - OLLAMA_HOST: base URL for ollama providers without one
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	get := func(k string) string {
		v, _ := lookup(k)
		return strings.TrimSpace(v)
	}
	if v := get("MORPH_DATABASE_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := get("MORPH_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := get("MORPH_WORKSPACE_ROOT"); v != "" {
		c.Workspace.Root = v
	}
	if v := get("MORPH_EMBEDDING_KEYS"); v != "" {
		c.Credentials.EmbeddingPool = splitList(v)
	}
	if key := get("OPENAI_API_KEY"); key != "" {
		if len(c.Credentials.EmbeddingPool) == 0 {
			c.Credentials.EmbeddingPool = []string{key}
		}
		if c.Generation.APIKey == "" {
			c.Generation.APIKey = key
		}
	}
	if v := get("MORPH_REDIS_ADDR"); v != "" {
		c.Events.Driver = "redis"
		c.Events.RedisAddr = v
	}
	if v := get("OLLAMA_HOST"); v != "" {
		if c.Embedding.Provider == "ollama" && c.Embedding.BaseURL == "" {
			c.Embedding.BaseURL = v
		}
		if c.Generation.Provider == "ollama" && c.Generation.BaseURL == "" {
			c.Generation.BaseURL = v
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ChunkableTypes converts the chunker section into typed chunk kinds.
func (c *Config) ChunkableTypes() (map[string][]model.ChunkType, error) {
	if len(c.Chunker.ChunkableTypesByLanguage) == 0 {
		return nil, nil
	}
	out := make(map[string][]model.ChunkType, len(c.Chunker.ChunkableTypesByLanguage))
	for lang, names := range c.Chunker.ChunkableTypesByLanguage {
		for _, name := range names {
			t, ok := model.ParseChunkType(name)
			if !ok {
				return nil, fmt.Errorf("chunker.chunkableTypesByLanguage.%s: unknown chunk type %q", lang, name)
			}
			out[lang] = append(out[lang], t)
		}
	}
	return out, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			bad("database.dsn is required for postgres")
		}
	default:
		bad("database.driver %q: want sqlite or postgres", c.Database.Driver)
	}

	p := c.Processor
	if p.MaxConcurrentJobs <= 0 {
		bad("processor.maxConcurrentJobs must be positive")
	}
	if p.PollInterval <= 0 {
		bad("processor.pollInterval must be positive")
	}
	if p.StaleClaimTimeout <= 0 {
		bad("processor.staleClaimTimeout must be positive")
	}
	if p.DownloadConcurrency <= 0 {
		bad("processor.downloadConcurrency must be positive")
	}
	if p.IOFailureRatio < 0 || p.IOFailureRatio > 1 {
		bad("processor.ioFailureRatio must be within [0,1]")
	}
	if p.CancelGrace < 0 || p.HeartbeatInterval < 0 {
		bad("processor durations must not be negative")
	}
	if p.HeartbeatInterval > 0 && p.HeartbeatInterval >= p.StaleClaimTimeout {
		bad("processor.heartbeatInterval must be below staleClaimTimeout")
	}

	x := c.Extractor
	if x.MaxFiles <= 0 || x.MaxFileBytes <= 0 || x.MaxTotalBytes <= 0 {
		bad("extractor limits must be positive")
	}
	if x.MaxFileBytes > x.MaxTotalBytes {
		bad("extractor.maxFileBytes exceeds maxTotalBytes")
	}
	if _, err := c.ChunkableTypes(); err != nil {
		errs = append(errs, err)
	}

	e := c.Embedding
	if !oneOf(e.Provider, "openai", "ollama", "mock") {
		bad("embedding.provider %q: want openai, ollama or mock", e.Provider)
	}
	if e.BatchSize <= 0 || e.Concurrency <= 0 || e.MaxAttempts <= 0 || e.MaxInputChars <= 0 {
		bad("embedding batchSize, concurrency, maxAttempts and maxInputChars must be positive")
	}
	if e.Dimension < 0 || e.InterDelay < 0 || e.RequestsPerSecond < 0 {
		bad("embedding dimension, interDelay and requestsPerSecond must not be negative")
	}

	r := c.Retrieval
	if r.DefaultK <= 0 {
		bad("retrieval.defaultK must be positive")
	}
	if r.DefaultThreshold < 0 || r.DefaultThreshold > 1 {
		bad("retrieval.defaultThreshold must be within [0,1]")
	}
	if r.NeighborCap < 0 {
		bad("retrieval.neighborCap must not be negative")
	}

	if !oneOf(c.Generation.Provider, "openai", "ollama", "mock") {
		bad("generation.provider %q: want openai, ollama or mock", c.Generation.Provider)
	}
	d := c.Deadlines
	if d.Download <= 0 || d.Embedding <= 0 || d.Generation <= 0 {
		bad("deadlines must be positive")
	}

	switch c.Events.Driver {
	case "memory":
	case "redis":
		if c.Events.RedisAddr == "" {
			bad("events.redisAddr is required for redis")
		}
	default:
		bad("events.driver %q: want memory or redis", c.Events.Driver)
	}

	if !oneOf(c.Telemetry.Exporter, "none", "stdout", "otlphttp") {
		bad("telemetry.exporter %q: want none, stdout or otlphttp", c.Telemetry.Exporter)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		bad("telemetry.sampleRatio must be within [0,1]")
	}

	return errors.Join(errs...)
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
