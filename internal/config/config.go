// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	AppName   string          `mapstructure:"app_name"`
	LogLevel  string          `mapstructure:"log_level"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Ollama    OllamaConfig    `mapstructure:"ollama"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
}

// ServerConfig is used by the headless API server. The desktop shell serves
// the same handler through the Wails asset server instead.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// StorageConfig lists every on-disk location.
type StorageConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
	VectorPath string `mapstructure:"vector_path"`
	UploadDir  string `mapstructure:"upload_dir"`
	ContentDir string `mapstructure:"content_dir"`
	CoverDir   string `mapstructure:"cover_dir"`
	BM25Dir    string `mapstructure:"bm25_dir"`
	ImportDir  string `mapstructure:"import_dir"`
}

// OllamaConfig points at the local LLM runtime.
type OllamaConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	LLMModel       string        `mapstructure:"llm_model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Concurrency    int           `mapstructure:"concurrency"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

// ChunkingConfig controls how chapter text is split for indexing and how
// reading locations are measured.
type ChunkingConfig struct {
	ChunkSize         int `mapstructure:"chunk_size"`
	ChunkOverlap      int `mapstructure:"chunk_overlap"`
	MinChunkSize      int `mapstructure:"min_chunk_size"`
	BatchSize         int `mapstructure:"batch_size"`
	SummaryInterval   int `mapstructure:"summary_interval"`
	LocationChunkSize int `mapstructure:"location_chunk_size"`
}

// RetrievalConfig tunes the hybrid search used to answer questions.
type RetrievalConfig struct {
	BM25Limit         int     `mapstructure:"bm25_limit"`
	BM25Weight        float64 `mapstructure:"bm25_weight"`
	VectorLimit       int     `mapstructure:"vector_limit"`
	VectorThreshold   float64 `mapstructure:"vector_threshold"`
	SummaryLimit      int     `mapstructure:"summary_limit"`
	SummaryThreshold  float64 `mapstructure:"summary_threshold"`
	SummaryWeight     float64 `mapstructure:"summary_weight"`
	ExpandedLimit     int     `mapstructure:"expanded_limit"`
	ExpandedThreshold float64 `mapstructure:"expanded_threshold"`
	ExpandedWeight    float64 `mapstructure:"expanded_weight"`
	RerankTrigger     int     `mapstructure:"rerank_trigger"`
	RerankWindow      int     `mapstructure:"rerank_window"`
	FinalContextLimit int     `mapstructure:"final_context_limit"`
	DefaultLimit      int     `mapstructure:"default_limit"`
}

// Addr is the listen address of the headless server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "MeReader")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8000)

	v.SetDefault("storage.sqlite_path", "data/mereader.db")
	v.SetDefault("storage.vector_path", "data/vectors")
	v.SetDefault("storage.upload_dir", "data/uploads")
	v.SetDefault("storage.content_dir", "data/contents")
	v.SetDefault("storage.cover_dir", "data/covers")
	v.SetDefault("storage.bm25_dir", "data/bm25_cache")
	v.SetDefault("storage.import_dir", "data/import")

	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.llm_model", "llama3.2:3b")
	v.SetDefault("ollama.embedding_model", "nomic-embed-text:latest")
	v.SetDefault("ollama.timeout", 60*time.Second)
	v.SetDefault("ollama.concurrency", 8)
	v.SetDefault("ollama.poll_interval", 30*time.Second)

	v.SetDefault("chunking.chunk_size", 400)
	v.SetDefault("chunking.chunk_overlap", 100)
	v.SetDefault("chunking.min_chunk_size", 100)
	v.SetDefault("chunking.batch_size", 120)
	v.SetDefault("chunking.summary_interval", 11)
	v.SetDefault("chunking.location_chunk_size", 1000)

	v.SetDefault("retrieval.bm25_limit", 10)
	v.SetDefault("retrieval.bm25_weight", 0.4)
	v.SetDefault("retrieval.vector_limit", 15)
	v.SetDefault("retrieval.vector_threshold", 0.6)
	v.SetDefault("retrieval.summary_limit", 5)
	v.SetDefault("retrieval.summary_threshold", 0.65)
	v.SetDefault("retrieval.summary_weight", 0.4)
	v.SetDefault("retrieval.expanded_limit", 5)
	v.SetDefault("retrieval.expanded_threshold", 0.5)
	v.SetDefault("retrieval.expanded_weight", 0.7)
	v.SetDefault("retrieval.rerank_trigger", 8)
	v.SetDefault("retrieval.rerank_window", 15)
	v.SetDefault("retrieval.final_context_limit", 25)
	v.SetDefault("retrieval.default_limit", 10)
}

// Load reads configuration from file and env. Env var overrides use prefix
// MEREADER_, e.g. MEREADER_OLLAMA_BASE_URL.
//
// An explicit path must exist; otherwise $MEREADER_CONFIG and then
// ~/.config/mereader/config.toml are tried and silently skipped when absent.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("toml")

	explicit := path != ""
	if !explicit {
		path = os.Getenv("MEREADER_CONFIG")
		explicit = path != ""
	}
	if explicit {
		v.SetConfigFile(path)
	} else if cfgDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(cfgDir, "mereader"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("MEREADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// EnsureDirs creates every storage directory, including the parent of the
// SQLite file.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		filepath.Dir(c.Storage.SQLitePath),
		c.Storage.VectorPath,
		c.Storage.UploadDir,
		c.Storage.ContentDir,
		c.Storage.CoverDir,
		c.Storage.BM25Dir,
		c.Storage.ImportDir,
	}
	for _, d := range dirs {
		if d == "" || d == "." {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// Rebase moves every relative storage path under root. The desktop build uses
// this to keep its data in the user's config directory.
func (c *Config) Rebase(root string) {
	rebase := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(root, *p)
		}
	}
	rebase(&c.Storage.SQLitePath)
	rebase(&c.Storage.VectorPath)
	rebase(&c.Storage.UploadDir)
	rebase(&c.Storage.ContentDir)
	rebase(&c.Storage.CoverDir)
	rebase(&c.Storage.BM25Dir)
	rebase(&c.Storage.ImportDir)
}
