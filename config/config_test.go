package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Security.MaxFileSizeMB != 10 {
		t.Errorf("Expected max file size 10MB, got %d", cfg.Security.MaxFileSizeMB)
	}
	if !cfg.Security.EnableContentScan {
		t.Error("Content scan should default to enabled")
	}
	if cfg.Cache.Backend != "disk" {
		t.Errorf("Expected disk backend, got %s", cfg.Cache.Backend)
	}
	if cfg.Cache.MaxSizeMB != 100 || cfg.Cache.MaxEntries != 1000 {
		t.Errorf("Unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Processing.MaxConcurrentFiles != 3 {
		t.Errorf("Expected 3 workers, got %d", cfg.Processing.MaxConcurrentFiles)
	}
	if cfg.Processing.MaxQueueSize != 100 {
		t.Errorf("Expected queue size 100, got %d", cfg.Processing.MaxQueueSize)
	}
	if len(cfg.Security.AllowedMimeTypes) == 0 {
		t.Error("Expected a default MIME allow-list")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("IMGCONV_SERVER_PORT", "9999")
	t.Setenv("IMGCONV_CACHE_BACKEND", "memory")
	t.Setenv("IMGCONV_PROCESSING_MAX_CONCURRENT_FILES", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != "9999" {
		t.Errorf("Env port override ignored, got %s", cfg.Server.Port)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("Env backend override ignored, got %s", cfg.Cache.Backend)
	}
	if cfg.Processing.MaxConcurrentFiles != 7 {
		t.Errorf("Env worker override ignored, got %d", cfg.Processing.MaxConcurrentFiles)
	}
}

func TestLoad_JSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "imgconv.json")
	content := `{
		"server": {"port": "8123"},
		"cache": {"backend": "memory", "max_size_mb": 5},
		"security": {"max_file_size_mb": 2}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != "8123" {
		t.Errorf("Expected port 8123, got %s", cfg.Server.Port)
	}
	if cfg.Cache.MaxSizeMB != 5 {
		t.Errorf("Expected cache 5MB, got %d", cfg.Cache.MaxSizeMB)
	}
	if cfg.Security.MaxFileSizeMB != 2 {
		t.Errorf("Expected 2MB file limit, got %d", cfg.Security.MaxFileSizeMB)
	}
	// Untouched keys keep their defaults.
	if cfg.Processing.MaxQueueSize != 100 {
		t.Errorf("Expected default queue size, got %d", cfg.Processing.MaxQueueSize)
	}
}

func TestLoad_NormalizesBadValues(t *testing.T) {
	t.Setenv("IMGCONV_CACHE_BACKEND", "s3")
	t.Setenv("IMGCONV_SECURITY_MAX_FILE_SIZE_MB", "-5")
	t.Setenv("IMGCONV_LOGGING_LEVEL", "verbose")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Cache.Backend != "disk" {
		t.Errorf("Unknown backend should normalize to disk, got %s", cfg.Cache.Backend)
	}
	if cfg.Security.MaxFileSizeMB != 10 {
		t.Errorf("Negative size should normalize to 10, got %d", cfg.Security.MaxFileSizeMB)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Unknown level should normalize to info, got %s", cfg.Logging.Level)
	}
}
