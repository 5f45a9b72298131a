package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/iancoleman/strcase"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mcncl/jsonflat/internal/errors"
)

const (
	// DefaultURIBase is the production remote instance
	DefaultURIBase = "https://fabricate.tonic.ai"
	// DefaultEnvFile is read from the working directory when present
	DefaultEnvFile = ".env"
	// Format is the only export format requested from the remote service
	Format = "jsonl"

	apiPath = "/api/v1"
)

// Config represents the complete configuration for jsonflat
type Config struct {
	Remote  RemoteConfig  `yaml:"remote"`
	Logging LoggingConfig `yaml:"logging"`
	Output  OutputConfig  `yaml:"output"`
}

// RemoteConfig describes the remote job that produces JSONL data
type RemoteConfig struct {
	URIBase      string        `yaml:"uri_base" env:"FABRICATE_URI_BASE" validate:"required,url"`
	APIKey       string        `yaml:"api_key" env:"FABRICATE_API_KEY" validate:"required"`
	Workspace    string        `yaml:"workspace" env:"WORKSPACE" validate:"required"`
	Database     string        `yaml:"database" env:"DATABASE" validate:"required"`
	Entity       string        `yaml:"entity" env:"ENTITY" validate:"required"`
	PollInterval time.Duration `yaml:"poll_interval" env:"JSONFLAT_POLL_INTERVAL" validate:"gt=0"`
}

// OutputConfig controls where fetched data lands
type OutputConfig struct {
	DownloadDir string `yaml:"download_dir" env:"JSONFLAT_DOWNLOAD_DIR" validate:"required"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			URIBase:      DefaultURIBase,
			PollInterval: time.Second,
		},
		Logging: LoggingConfig{
			Level: "normal",
		},
		Output: OutputConfig{
			DownloadDir: "data",
		},
	}
}

// LoadConfig loads configuration from a YAML file on top of the defaults.
// Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigurationError(fmt.Sprintf("failed to read config file %s", path), err)
	}

	cfg := NewConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, errors.NewConfigurationError(fmt.Sprintf("failed to parse config file %s: %v", path, err), err)
	}
	return cfg, nil
}

// FindConfigFile searches for a config file in current directory and parents
func FindConfigFile() string {
	configNames := []string{".jsonflat.yml", ".jsonflat.yaml", "jsonflat.yml", "jsonflat.yaml"}

	currentDir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		for _, name := range configNames {
			configPath := filepath.Join(currentDir, name)
			if _, err := os.Stat(configPath); err == nil {
				return configPath
			}
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			break
		}
		currentDir = parentDir
	}

	return ""
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (if any), then envFile, then the process environment.
func Load(path, envFile string) (*Config, error) {
	cfg := NewConfig()
	if path != "" {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(envFile); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays values from envFile and the process environment. Real
// environment variables win over the file unless empty; a missing file is
// ignored.
func (c *Config) ApplyEnv(envFile string) error {
	environ := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			environ[k] = v
		}
	}
	return c.applyEnv(envFile, environ)
}

func (c *Config) applyEnv(envFile string, environ map[string]string) error {
	merged := make(map[string]string, len(environ))
	if envFile != "" {
		fileVars, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			for k, v := range fileVars {
				merged[k] = v
			}
		case stderrors.Is(err, fs.ErrNotExist):
		default:
			return errors.NewConfigurationError(fmt.Sprintf("failed to read env file %s", envFile), err)
		}
	}
	for k, v := range environ {
		if v == "" {
			continue
		}
		merged[k] = v
	}

	if err := env.ParseWithOptions(c, env.Options{Environment: merged}); err != nil {
		return errors.NewConfigurationError(fmt.Sprintf("invalid environment: %v", err), err)
	}
	return nil
}

// Validate checks the whole configuration. Every problem is reported in a
// single configuration error.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(variableName)

	err := v.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return errors.NewConfigurationError("failed to validate configuration", err)
	}

	var (
		msgs    []string
		missing bool
	)
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			missing = true
			msgs = append(msgs, fmt.Sprintf("%s environment variable is required", fe.Field()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s has invalid value %q (%s)", fe.Field(), fmt.Sprint(fe.Value()), fe.Tag()))
	}

	var cause error
	if missing {
		cause = errors.ErrMissingConfig
	}
	return errors.NewConfigurationError(strings.Join(msgs, "; "), cause)
}

// variableName names a field after its environment variable, or after its
// YAML key when it has none.
func variableName(f reflect.StructField) string {
	if name := f.Tag.Get("env"); name != "" {
		return name
	}
	if key, _, _ := strings.Cut(f.Tag.Get("yaml"), ","); key != "" && key != "-" {
		return strcase.ToScreamingSnake(key)
	}
	return f.Name
}

// APIURL returns the API root: the base URI without one trailing slash,
// followed by /api/v1.
func (c *Config) APIURL() string {
	return strings.TrimSuffix(c.Remote.URIBase, "/") + apiPath
}

// IsCustomInstance reports whether the base URI points away from production
func (c *Config) IsCustomInstance() bool {
	return c.Remote.URIBase != DefaultURIBase
}

// MaskedAPIKey shows the first 10 characters of a longer key, otherwise "***"
func (c *Config) MaskedAPIKey() string {
	if len(c.Remote.APIKey) > 10 {
		return c.Remote.APIKey[:10] + "..."
	}
	return "***"
}

// Redacted renders the effective configuration without exposing the API key
func (c *Config) Redacted() string {
	instance := "production"
	if c.IsCustomInstance() {
		instance = "custom instance"
	}

	var sb strings.Builder
	sb.WriteString("Configuration:\n")
	fmt.Fprintf(&sb, "  URI Base: %s (%s)\n", c.Remote.URIBase, instance)
	fmt.Fprintf(&sb, "  API URL: %s\n", c.APIURL())
	fmt.Fprintf(&sb, "  Workspace: %s\n", c.Remote.Workspace)
	fmt.Fprintf(&sb, "  Database: %s\n", c.Remote.Database)
	fmt.Fprintf(&sb, "  Entity: %s\n", c.Remote.Entity)
	fmt.Fprintf(&sb, "  Format: %s\n", Format)
	fmt.Fprintf(&sb, "  API Key: %s\n", c.MaskedAPIKey())
	return sb.String()
}

// DownloadPath is where the data for entity is stored locally
func (c *Config) DownloadPath(entity string) string {
	return filepath.Join(c.Output.DownloadDir, entity+"."+Format)
}
