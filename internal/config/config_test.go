package config

import (
	"encoding/json"
	"os"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Tier != "restricted" {
		t.Errorf("Tier: got %s, want restricted", cfg.Tier)
	}
	if cfg.ConcurrencyRestricted != 1 {
		t.Errorf("ConcurrencyRestricted: got %d, want 1", cfg.ConcurrencyRestricted)
	}
	if cfg.ConcurrencyUnrestricted != 10 {
		t.Errorf("ConcurrencyUnrestricted: got %d, want 10", cfg.ConcurrencyUnrestricted)
	}
	if cfg.RateWindowSeconds != 60 {
		t.Errorf("RateWindowSeconds: got %d, want 60", cfg.RateWindowSeconds)
	}
	if cfg.RateWindowBudget != 14 {
		t.Errorf("RateWindowBudget: got %d, want 14", cfg.RateWindowBudget)
	}
	if cfg.OCRTimeoutSeconds != 30 {
		t.Errorf("OCRTimeoutSeconds: got %d, want 30", cfg.OCRTimeoutSeconds)
	}
	if cfg.RetryMax != 3 {
		t.Errorf("RetryMax: got %d, want 3", cfg.RetryMax)
	}
	if cfg.RetryBackoffBaseSeconds != 1 {
		t.Errorf("RetryBackoffBaseSeconds: got %f, want 1", cfg.RetryBackoffBaseSeconds)
	}
	if cfg.RetryBackoffCapSeconds != 8 {
		t.Errorf("RetryBackoffCapSeconds: got %f, want 8", cfg.RetryBackoffCapSeconds)
	}
	if cfg.MatchFallbackThreshold != 70 {
		t.Errorf("MatchFallbackThreshold: got %d, want 70", cfg.MatchFallbackThreshold)
	}
	if cfg.MatchTimeWindowSeconds != 120 {
		t.Errorf("MatchTimeWindowSeconds: got %d, want 120", cfg.MatchTimeWindowSeconds)
	}
	if cfg.HeroStackTolerance != 0.25 {
		t.Errorf("HeroStackTolerance: got %f, want 0.25", cfg.HeroStackTolerance)
	}
	if cfg.OtherStacksTolerance != 0.30 {
		t.Errorf("OtherStacksTolerance: got %f, want 0.30", cfg.OtherStacksTolerance)
	}
	if cfg.OtherStacksMinFraction != 0.5 {
		t.Errorf("OtherStacksMinFraction: got %f, want 0.5", cfg.OtherStacksMinFraction)
	}
	if cfg.FuzzyNameThreshold != 0.70 {
		t.Errorf("FuzzyNameThreshold: got %f, want 0.70", cfg.FuzzyNameThreshold)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel: got %s, want info", cfg.LogLevel)
	}
	if cfg.OCRCacheFile != "ocr-cache.db" {
		t.Errorf("OCRCacheFile: got %s", cfg.OCRCacheFile)
	}
	if cfg.StorageDir != "jobs" {
		t.Errorf("StorageDir: got %s", cfg.StorageDir)
	}
	if cfg.StageWallclockTimeoutSeconds != 0 {
		t.Errorf("StageWallclockTimeoutSeconds: got %d, want 0 (unbounded by default)", cfg.StageWallclockTimeoutSeconds)
	}
}

func TestLoadEnv_Tier(t *testing.T) {
	t.Setenv("PIPELINE_TIER", "unrestricted")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.Tier != "unrestricted" {
		t.Errorf("Tier: got %s, want unrestricted", cfg.Tier)
	}
}

func TestLoadEnv_ConcurrencyRestricted(t *testing.T) {
	t.Setenv("CONCURRENCY_RESTRICTED", "2")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.ConcurrencyRestricted != 2 {
		t.Errorf("ConcurrencyRestricted: got %d, want 2", cfg.ConcurrencyRestricted)
	}
}

func TestLoadEnv_ConcurrencyUnrestricted(t *testing.T) {
	t.Setenv("CONCURRENCY_UNRESTRICTED", "20")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.ConcurrencyUnrestricted != 20 {
		t.Errorf("ConcurrencyUnrestricted: got %d, want 20", cfg.ConcurrencyUnrestricted)
	}
}

func TestLoadEnv_RateWindowSeconds(t *testing.T) {
	t.Setenv("RATE_WINDOW_SECONDS", "30")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.RateWindowSeconds != 30 {
		t.Errorf("RateWindowSeconds: got %d, want 30", cfg.RateWindowSeconds)
	}
}

func TestLoadEnv_RateWindowBudget(t *testing.T) {
	t.Setenv("RATE_WINDOW_BUDGET", "7")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.RateWindowBudget != 7 {
		t.Errorf("RateWindowBudget: got %d, want 7", cfg.RateWindowBudget)
	}
}

func TestLoadEnv_OCRTimeoutSeconds(t *testing.T) {
	t.Setenv("OCR_TIMEOUT_SECONDS", "45")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.OCRTimeoutSeconds != 45 {
		t.Errorf("OCRTimeoutSeconds: got %d, want 45", cfg.OCRTimeoutSeconds)
	}
}

func TestLoadEnv_RetryMax(t *testing.T) {
	t.Setenv("RETRY_MAX", "5")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.RetryMax != 5 {
		t.Errorf("RetryMax: got %d, want 5", cfg.RetryMax)
	}
}

func TestLoadEnv_RetryMax_ZeroAllowed(t *testing.T) {
	t.Setenv("RETRY_MAX", "0")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.RetryMax != 0 {
		t.Errorf("RetryMax: got %d, want 0 (zero retries is a valid setting)", cfg.RetryMax)
	}
}

func TestLoadEnv_MatchFallbackThreshold(t *testing.T) {
	t.Setenv("MATCH_FALLBACK_THRESHOLD", "80")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.MatchFallbackThreshold != 80 {
		t.Errorf("MatchFallbackThreshold: got %d, want 80", cfg.MatchFallbackThreshold)
	}
}

func TestLoadEnv_FuzzyNameThreshold(t *testing.T) {
	t.Setenv("FUZZY_NAME_THRESHOLD", "0.85")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.FuzzyNameThreshold != 0.85 {
		t.Errorf("FuzzyNameThreshold: got %f, want 0.85", cfg.FuzzyNameThreshold)
	}
}

func TestLoadEnv_LogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: got %s", cfg.LogLevel)
	}
}

func TestLoadEnv_OCRCacheFile(t *testing.T) {
	t.Setenv("OCR_CACHE_FILE", "/tmp/my-cache.db")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.OCRCacheFile != "/tmp/my-cache.db" {
		t.Errorf("OCRCacheFile: got %s", cfg.OCRCacheFile)
	}
}

func TestLoadEnv_StorageDir(t *testing.T) {
	t.Setenv("STORAGE_DIR", "/var/lib/revealer/jobs")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.StorageDir != "/var/lib/revealer/jobs" {
		t.Errorf("StorageDir: got %s", cfg.StorageDir)
	}
}

func TestLoadEnv_InvalidConcurrency_Ignored(t *testing.T) {
	t.Setenv("CONCURRENCY_RESTRICTED", "not-a-number")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.ConcurrencyRestricted != 1 {
		t.Errorf("ConcurrencyRestricted: got %d, want 1 (invalid env should be ignored)", cfg.ConcurrencyRestricted)
	}
}

func TestLoadEnv_NegativeConcurrency_Ignored(t *testing.T) {
	t.Setenv("CONCURRENCY_UNRESTRICTED", "-3")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.ConcurrencyUnrestricted != 10 {
		t.Errorf("ConcurrencyUnrestricted: got %d, want 10 (non-positive env should be ignored)", cfg.ConcurrencyUnrestricted)
	}
}

func TestLoadFile_ValidJSON(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-*.json")
	if err != nil {
		t.Fatal(err)
	}

	data, marshalErr := json.Marshal(map[string]any{
		"tier":               "unrestricted",
		"rateWindowBudget":   25,
		"fuzzyNameThreshold": 0.9,
	})
	if marshalErr != nil {
		t.Fatal(marshalErr)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	cfg := defaults()
	loadFile(cfg, f.Name())

	if cfg.Tier != "unrestricted" {
		t.Errorf("Tier: got %s, want unrestricted", cfg.Tier)
	}
	if cfg.RateWindowBudget != 25 {
		t.Errorf("RateWindowBudget: got %d, want 25", cfg.RateWindowBudget)
	}
	if cfg.FuzzyNameThreshold != 0.9 {
		t.Errorf("FuzzyNameThreshold: got %f, want 0.9", cfg.FuzzyNameThreshold)
	}
}

func TestLoadFile_Missing_IsNoOp(t *testing.T) {
	cfg := defaults()
	loadFile(cfg, "/nonexistent/path/config.json")
	if cfg.Tier != "restricted" {
		t.Errorf("Tier changed unexpectedly: %s", cfg.Tier)
	}
}

func TestLoadFile_InvalidJSON_PreservesDefaults(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-bad-*.json")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{this is not json}"); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	cfg := defaults()
	loadFile(cfg, f.Name())
	if cfg.Tier != "restricted" {
		t.Errorf("Tier changed on bad JSON: %s", cfg.Tier)
	}
}

func TestLoad_ReturnsNonNil(t *testing.T) {
	cfg := Load()
	if cfg == nil {
		t.Fatal("Load() returned nil")
	}
	if cfg.ConcurrencyRestricted <= 0 {
		t.Errorf("ConcurrencyRestricted should be positive, got %d", cfg.ConcurrencyRestricted)
	}
}
