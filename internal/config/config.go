package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	BlobGCS   = "gcs"
	BlobLocal = "local"

	StoreFirestore = "firestore"
	StoreSQLite    = "sqlite"
	StoreTable     = "table"
)

type Config struct {
	LogLevel string `yaml:"log_level"`

	Blob struct {
		Driver string `yaml:"driver"`
		Bucket string `yaml:"bucket"`
		Root   string `yaml:"root"`
	} `yaml:"blob"`

	Store struct {
		Driver     string `yaml:"driver"`
		Collection string `yaml:"collection"`
		SQLitePath string `yaml:"sqlite_path"`
		TablePath  string `yaml:"table_path"`
	} `yaml:"store"`

	ProjectID    string `yaml:"project_id"`
	PagesPrefix  string `yaml:"pages_prefix"`
	ImportPrefix string `yaml:"import_prefix"`

	Vertex struct {
		Region string `yaml:"region"`
		Model  string `yaml:"model"`
	} `yaml:"vertex"`

	Workflow struct {
		ID       string `yaml:"id"`
		Location string `yaml:"location"`
	} `yaml:"workflow"`

	Tesseract struct {
		Enabled   bool     `yaml:"enabled"`
		Languages []string `yaml:"languages"`
	} `yaml:"tesseract"`

	Workers        int    `yaml:"workers"`
	ImportDebounce int    `yaml:"import_debounce_ms"`
	TopDocuments   int    `yaml:"top_documents"`
	TopWords       int    `yaml:"top_words"`
	ServerAddr     string `yaml:"server_addr"`
}

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// Default returns a config for a local, single-machine setup laid out like the
// legacy bucket: pages under Data/, import units under Processed/.
func Default() *Config {
	cfg := &Config{
		LogLevel:       "info",
		PagesPrefix:    "Data",
		ImportPrefix:   "Processed",
		Workers:        1,
		ImportDebounce: 500,
		TopDocuments:   5,
		TopWords:       5,
		ServerAddr:     "localhost:8080",
	}
	cfg.Blob.Driver = BlobLocal
	cfg.Blob.Root = "data"
	cfg.Store.Driver = StoreSQLite
	cfg.Store.Collection = "pages"
	cfg.Store.SQLitePath = "pages.db"
	cfg.Store.TablePath = "doc_df.csv"
	cfg.Vertex.Region = "us-central1"
	cfg.Vertex.Model = "gemini-1.5-pro"
	cfg.Workflow.Location = "us-central1"
	cfg.Tesseract.Languages = []string{"eng"}
	return cfg
}

// Load reads the YAML file at path over the defaults, then applies env
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("unable to open config file: %w", err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("unable to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = GetEnv("LOG_LEVEL", c.LogLevel)
	c.ProjectID = GetEnv("PROJECT_ID", c.ProjectID)
	c.Blob.Driver = GetEnv("BLOB_DRIVER", c.Blob.Driver)
	c.Blob.Bucket = GetEnv("PAGES_BUCKET", c.Blob.Bucket)
	c.Blob.Root = GetEnv("LOCAL_ROOT", c.Blob.Root)
	c.Store.Driver = GetEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.Collection = GetEnv("FIRESTORE_COLLECTION", c.Store.Collection)
	c.Store.SQLitePath = GetEnv("SQLITE_PATH", c.Store.SQLitePath)
	c.Store.TablePath = GetEnv("TABLE_PATH", c.Store.TablePath)
	c.PagesPrefix = GetEnv("PAGES_PREFIX", c.PagesPrefix)
	c.ImportPrefix = GetEnv("IMPORT_PREFIX", c.ImportPrefix)
	c.Vertex.Region = GetEnv("VERTEX_AI_REGION", c.Vertex.Region)
	c.Vertex.Model = GetEnv("VERTEX_MODEL", c.Vertex.Model)
	c.Workflow.ID = GetEnv("WORKFLOW_ID", c.Workflow.ID)
	c.Workflow.Location = GetEnv("WORKFLOW_LOCATION", c.Workflow.Location)
	if v, err := strconv.Atoi(GetEnv("WORKERS", "")); err == nil {
		c.Workers = v
	}
	if v, err := strconv.ParseBool(GetEnv("TESSERACT_ENABLED", "")); err == nil {
		c.Tesseract.Enabled = v
	}
}

// Validate checks that the selected drivers have what they need.
func (c *Config) Validate() error {
	var errs []error

	switch c.Blob.Driver {
	case BlobGCS:
		if c.Blob.Bucket == "" {
			errs = append(errs, errors.New("PAGES_BUCKET must be set for the gcs blob driver"))
		}
	case BlobLocal:
		if c.Blob.Root == "" {
			errs = append(errs, errors.New("LOCAL_ROOT must be set for the local blob driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}

	switch c.Store.Driver {
	case StoreFirestore:
		if c.ProjectID == "" {
			errs = append(errs, errors.New("PROJECT_ID must be set for the firestore store"))
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH must be set for the sqlite store"))
		}
	case StoreTable:
		if c.Store.TablePath == "" {
			errs = append(errs, errors.New("TABLE_PATH must be set for the table store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	if c.Workflow.ID != "" && c.ProjectID == "" {
		errs = append(errs, errors.New("PROJECT_ID must be set to trigger workflows"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.PagesPrefix == c.ImportPrefix {
		errs = append(errs, errors.New("pages_prefix and import_prefix must differ"))
	}

	return errors.Join(errs...)
}

// VertexEnabled reports whether PDF pages can be sent to Vertex AI.
func (c *Config) VertexEnabled() bool {
	return c.ProjectID != "" && c.Vertex.Region != ""
}

// Level maps LogLevel onto a slog level, defaulting to info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
