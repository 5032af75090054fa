package config

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		for _, key := range []string{"LANGFUSE_API_URL", "LANGFUSE_PROJECT_ID", "LANGFUSE_CLI_TIMEOUT", "LANGFUSE_FORMAT", "LANGFUSE_VERBOSE"} {
			t.Setenv(key, "")
		}
		cfg := DefaultConfig()

		if cfg.APIURL != "http://localhost:8080" {
			t.Errorf("APIURL = %v, want http://localhost:8080", cfg.APIURL)
		}
		if cfg.ProjectID != "" {
			t.Errorf("ProjectID = %v, want empty", cfg.ProjectID)
		}
		if cfg.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
		}
		if cfg.Format != "table" {
			t.Errorf("Format = %v, want table", cfg.Format)
		}
		if cfg.Verbose {
			t.Error("Verbose = true, want false")
		}
	})

	t.Run("from environment", func(t *testing.T) {
		t.Setenv("LANGFUSE_API_URL", "https://langfuse.example.com")
		t.Setenv("LANGFUSE_PROJECT_ID", "proj-1")
		t.Setenv("LANGFUSE_CLI_TIMEOUT", "5s")
		t.Setenv("LANGFUSE_FORMAT", "json")
		t.Setenv("LANGFUSE_VERBOSE", "true")

		cfg := DefaultConfig()

		if cfg.APIURL != "https://langfuse.example.com" {
			t.Errorf("APIURL = %v", cfg.APIURL)
		}
		if cfg.ProjectID != "proj-1" {
			t.Errorf("ProjectID = %v, want proj-1", cfg.ProjectID)
		}
		if cfg.Timeout != 5*time.Second {
			t.Errorf("Timeout = %v, want 5s", cfg.Timeout)
		}
		if cfg.Format != "json" {
			t.Errorf("Format = %v, want json", cfg.Format)
		}
		if !cfg.Verbose {
			t.Error("Verbose = false, want true")
		}
	})

	t.Run("invalid values fall back", func(t *testing.T) {
		t.Setenv("LANGFUSE_CLI_TIMEOUT", "soon")
		t.Setenv("LANGFUSE_VERBOSE", "not-a-bool")

		cfg := DefaultConfig()
		if cfg.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
		}
		if cfg.Verbose {
			t.Error("Verbose = true, want false")
		}
	})
}
