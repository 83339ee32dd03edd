package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	env   string
	typ   keyType
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		env: "GANTRY_SERVER_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		env: "GANTRY_SERVER_MCP_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
	},
	{
		env: "GANTRY_SERVER_TOKEN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
	},
	{
		env: "GANTRY_STORAGE_DATA_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		env: "GANTRY_CATALOG_PATH", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Catalog.Path = v.(string) },
	},
	{
		env: "GANTRY_DEFAULT_CHAT_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Catalog.DefaultChatModel = v.(string) },
	},
	{
		env: "GANTRY_DEFAULT_MULTIMODAL_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Catalog.DefaultMultimodal = v.(string) },
	},
	{
		env: "GANTRY_DEFAULT_EMBEDDING_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Catalog.DefaultEmbeddingModel = v.(string) },
	},
	{
		env: "GANTRY_VECTOR_BACKEND", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Vector.Backend = v.(string) },
	},
	{
		env: "GANTRY_VECTOR_INDEX_SERVICE_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Vector.IndexServiceURL = v.(string) },
	},
	{
		env: "GANTRY_VECTOR_BUCKET_ROOT", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Vector.BucketRoot = v.(string) },
	},
	{
		env: "GANTRY_LOG_LEVEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
