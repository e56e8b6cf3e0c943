package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MEREADER_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.AppName != "MeReader" {
		t.Errorf("AppName = %q", c.AppName)
	}
	if c.Ollama.LLMModel != "llama3.2:3b" {
		t.Errorf("LLMModel = %q", c.Ollama.LLMModel)
	}
	if c.Ollama.Timeout != 60*time.Second {
		t.Errorf("Timeout = %v", c.Ollama.Timeout)
	}
	if c.Chunking.LocationChunkSize != 1000 {
		t.Errorf("LocationChunkSize = %d", c.Chunking.LocationChunkSize)
	}
	if c.Retrieval.BM25Weight != 0.4 {
		t.Errorf("BM25Weight = %v", c.Retrieval.BM25Weight)
	}
	if c.Server.Addr() != "127.0.0.1:8000" {
		t.Errorf("Addr = %q", c.Server.Addr())
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
log_level = "debug"

[ollama]
llm_model = "gemma3:4b"

[chunking]
chunk_size = 650
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEREADER_OLLAMA_BASE_URL", "http://10.0.0.2:11434")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", c.LogLevel)
	}
	if c.Ollama.LLMModel != "gemma3:4b" {
		t.Errorf("LLMModel = %q", c.Ollama.LLMModel)
	}
	if c.Chunking.ChunkSize != 650 {
		t.Errorf("ChunkSize = %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap != 100 {
		t.Errorf("ChunkOverlap default lost: %d", c.Chunking.ChunkOverlap)
	}
	if c.Ollama.BaseURL != "http://10.0.0.2:11434" {
		t.Errorf("BaseURL = %q", c.Ollama.BaseURL)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestRebaseAndEnsureDirs(t *testing.T) {
	t.Setenv("MEREADER_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	c.Rebase(root)
	if c.Storage.UploadDir != filepath.Join(root, "data", "uploads") {
		t.Fatalf("UploadDir = %q", c.Storage.UploadDir)
	}
	if err := c.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	for _, d := range []string{c.Storage.UploadDir, c.Storage.ContentDir, c.Storage.CoverDir, c.Storage.BM25Dir, c.Storage.ImportDir, filepath.Dir(c.Storage.SQLitePath)} {
		if fi, err := os.Stat(d); err != nil || !fi.IsDir() {
			t.Errorf("missing dir %s", d)
		}
	}
}
