// Package config loads the publishing configuration from a JSON or YAML
// file, a .env file and the environment.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

const DefaultFileName = "aistdoc.json"

var ErrInvalidConfig = errors.New("invalid config")

//go:embed config.schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

type Config struct {
	Aistant AistantConfig `json:"aistant" yaml:"aistant"`
	Source  SourceConfig  `json:"source,omitempty" yaml:"source,omitempty"`
	// Output, when set, writes files to this directory instead of
	// publishing.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
}

type SectionConfig struct {
	URI   string `json:"uri,omitempty" yaml:"uri,omitempty"`
	Title string `json:"title,omitempty" yaml:"title,omitempty"`
}

type AistantConfig struct {
	KB       string        `json:"kb" yaml:"kb"`
	Team     string        `json:"team" yaml:"team"`
	Section  SectionConfig `json:"section,omitempty" yaml:"section,omitempty"`
	Username string        `json:"username" yaml:"username"`
	Password string        `json:"password" yaml:"password"`
	// AddVersion appends a version per revision instead of overwriting the
	// latest one.
	AddVersion bool `json:"addVersion" yaml:"addVersion"`
	Publish    bool `json:"publish" yaml:"publish"`

	AuthHost         string `json:"authHost,omitempty" yaml:"authHost,omitempty"`
	APIHost          string `json:"apiHost,omitempty" yaml:"apiHost,omitempty"`
	TokenEndpoint    string `json:"tokenEndpoint,omitempty" yaml:"tokenEndpoint,omitempty"`
	ClientID         string `json:"clientId,omitempty" yaml:"clientId,omitempty"`
	Scope            string `json:"scope,omitempty" yaml:"scope,omitempty"`
	ArticlesEndpoint string `json:"articlesEndpoint,omitempty" yaml:"articlesEndpoint,omitempty"`
	DocsEndpoint     string `json:"docsEndpoint,omitempty" yaml:"docsEndpoint,omitempty"`
	PublicEndpoint   string `json:"publicEndpoint,omitempty" yaml:"publicEndpoint,omitempty"`
	Timeout          string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retries          int    `json:"retries,omitempty" yaml:"retries,omitempty"`
}

type SourceConfig struct {
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

func Default() *Config {
	return &Config{
		Aistant: AistantConfig{
			AddVersion:       true,
			Publish:          true,
			AuthHost:         "https://auth.aistant.com",
			APIHost:          "https://api.aistant.com",
			TokenEndpoint:    "connect/token",
			ClientID:         "aistant-client",
			Scope:            "openid offline_access profile kb",
			ArticlesEndpoint: "1.0/articles",
			DocsEndpoint:     "1.0/docs",
			PublicEndpoint:   "1.0/public",
			Timeout:          "60s",
			Retries:          2,
		},
		Source: SourceConfig{Mode: "md", Path: "docs"},
	}
}

// Load reads path, validates it against the embedded schema, applies a
// .env file next to it and the AISTDOC_* environment overrides, and
// checks the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data, isYAML(path))
	if err != nil {
		return nil, err
	}
	if err := LoadDotEnv(filepath.Dir(path)); err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a config document over the defaults.
func Parse(data []byte, yamlDoc bool) (*Config, error) {
	raw := data
	if yamlDoc {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: parse yaml: %v", ErrInvalidConfig, err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("%w: convert yaml: %v", ErrInvalidConfig, err)
		}
		raw = converted
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

func validateSchema(raw []byte) error {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("config.schema.json", doc); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("config.schema.json")
	})
	if schemaErr != nil {
		return schemaErr
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// LoadDotEnv loads dir/.env into the process environment without replacing
// variables that are already set. A missing file is not an error.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnvOverrides replaces file values with AISTDOC_* variables.
func (c *Config) ApplyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("AISTDOC_USERNAME")); v != "" {
		c.Aistant.Username = v
	}
	if v := os.Getenv("AISTDOC_PASSWORD"); v != "" {
		c.Aistant.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("AISTDOC_KB")); v != "" {
		c.Aistant.KB = v
	}
	if v := strings.TrimSpace(os.Getenv("AISTDOC_TEAM")); v != "" {
		c.Aistant.Team = v
	}
	if v := strings.TrimSpace(os.Getenv("AISTDOC_API_HOST")); v != "" {
		c.Aistant.APIHost = v
	}
	if v := strings.TrimSpace(os.Getenv("AISTDOC_AUTH_HOST")); v != "" {
		c.Aistant.AuthHost = v
	}
}

func (c *Config) Validate() error {
	var problems []string
	if c.Output == "" {
		if strings.TrimSpace(c.Aistant.KB) == "" {
			problems = append(problems, "aistant.kb is required")
		}
		if strings.TrimSpace(c.Aistant.Username) == "" {
			problems = append(problems, "aistant.username is required")
		}
		if c.Aistant.Password == "" {
			problems = append(problems, "aistant.password is required")
		}
	}
	uri := strings.Trim(strings.TrimSpace(c.Aistant.Section.URI), "/")
	title := strings.TrimSpace(c.Aistant.Section.Title)
	if (uri == "") != (title == "") {
		problems = append(problems, "aistant.section needs both uri and title")
	}
	if _, err := time.ParseDuration(c.Aistant.Timeout); c.Aistant.Timeout != "" && err != nil {
		problems = append(problems, "aistant.timeout: "+err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// TokenURL joins the auth host and the token endpoint.
func (c *Config) TokenURL() string {
	return joinURL(c.Aistant.AuthHost, c.Aistant.TokenEndpoint)
}

// RequestTimeout is the per-call transport timeout, zero when unset.
func (c *Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Aistant.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// Save writes the config as indented JSON or YAML depending on the file
// extension.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// Template returns a starter config for the given source mode.
func Template(mode string) (*Config, error) {
	cfg := Default()
	cfg.Aistant.KB = "my-kb"
	cfg.Aistant.Team = "my-team"
	cfg.Aistant.Username = "user@example.com"
	cfg.Aistant.Password = "change-me"
	cfg.Aistant.Section = SectionConfig{URI: "docs", Title: "Documentation"}
	switch mode {
	case "", "md":
		cfg.Source = SourceConfig{Mode: "md", Path: "docs"}
	case "manifest":
		cfg.Source = SourceConfig{Mode: "manifest", Path: "manifest.json"}
	default:
		return nil, fmt.Errorf("%w: unknown source mode %q", ErrInvalidConfig, mode)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func joinURL(host, endpoint string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	endpoint = strings.TrimLeft(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return host
	}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return host + "/" + endpoint
}
