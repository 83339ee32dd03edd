package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Catalog CatalogConfig `yaml:"catalog"`
	Vector  VectorConfig  `yaml:"vector"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Port    int    `yaml:"port"`
	MCPPort int    `yaml:"mcp_port"`
	Token   string `yaml:"token"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// CatalogConfig points at the model catalog file and names the default
// logical model ids used when a caller does not specify one.
type CatalogConfig struct {
	Path                  string `yaml:"path"`
	DefaultChatModel      string `yaml:"default_chat_model"`
	DefaultMultimodal     string `yaml:"default_multimodal_model"`
	DefaultEmbeddingModel string `yaml:"default_embedding_model"`
}

// VectorConfig selects the vector store backend and, for the managed
// matching backend, the index service and object storage root.
type VectorConfig struct {
	Backend         string `yaml:"backend"` // "matching" or "sqlvec"
	IndexServiceURL string `yaml:"index_service_url"`
	BucketRoot      string `yaml:"bucket_root"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4600,
			MCPPort: 4601,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Catalog: CatalogConfig{
			Path: "models.yaml",
		},
		Vector: VectorConfig{
			Backend: "sqlvec",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "gantry-data"
		}
	}
	return filepath.Join(dir, "gantry")
}

// Load reads configuration from an optional YAML file and applies GANTRY_*
// environment variable overrides on top of the built-in defaults. path may be
// empty, in which case only defaults and environment apply.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Vector.Backend != "matching" && cfg.Vector.Backend != "sqlvec" {
		return Config{}, fmt.Errorf("unknown vector backend %q (expected matching or sqlvec)", cfg.Vector.Backend)
	}
	if cfg.Vector.Backend == "matching" && cfg.Vector.IndexServiceURL == "" {
		return Config{}, fmt.Errorf("vector.index_service_url is required for the matching backend")
	}

	return cfg, nil
}
