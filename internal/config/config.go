// Package config loads and holds all pipeline configuration.
// Settings are layered: defaults → pipeline-config.json → environment
// variables (env vars win). The tuning fields correspond to spec §6's
// recognized options; the rest hold the OCR endpoints, log level, cache and
// storage paths, and the per-stage wallclock timeout.
package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
)

// Config holds the full per-process pipeline configuration. A *Config is
// threaded into the pipeline constructor and from there into every stage;
// no stage reads os.Getenv directly (spec §9: per-job dependency injection,
// no ambient global state).
type Config struct {
	Tier string `json:"tier"` // "restricted" | "unrestricted"

	ConcurrencyRestricted   int `json:"concurrencyRestricted"`
	ConcurrencyUnrestricted int `json:"concurrencyUnrestricted"`

	RateWindowSeconds int `json:"rateWindowSeconds"`
	RateWindowBudget  int `json:"rateWindowBudget"`

	OCRTimeoutSeconds int `json:"ocrTimeoutSeconds"`

	RetryMax                int     `json:"retryMax"`
	RetryBackoffBaseSeconds float64 `json:"retryBackoffBaseSeconds"`
	RetryBackoffCapSeconds  float64 `json:"retryBackoffCapSeconds"`

	MatchFallbackThreshold int `json:"matchFallbackThreshold"`
	MatchTimeWindowSeconds int `json:"matchTimeWindowSeconds"`

	HeroStackTolerance     float64 `json:"heroStackTolerance"`
	OtherStacksTolerance   float64 `json:"otherStacksTolerance"`
	OtherStacksMinFraction float64 `json:"otherStacksMinFraction"`

	FuzzyNameThreshold float64 `json:"fuzzyNameThreshold"`

	// OCREndpointA/OCREndpointB are the vision-OCR HTTP endpoints for stages
	// 2 and 4 (spec §4.2/§4.4). Both must be set for cmd/revealer to wire a
	// real ocr.HTTPClient.
	OCREndpointA string `json:"ocrEndpointA"`
	OCREndpointB string `json:"ocrEndpointB"`

	LogLevel string `json:"logLevel"`

	OCRCacheFile string `json:"ocrCacheFile"` // path to bbolt OCR-result cache; empty = in-memory only
	StorageDir   string `json:"storageDir"`   // directory for the file-backed storage port

	// StageWallclockTimeoutSeconds bounds each stage's total wallclock run
	// time (spec §5). Zero means no stage timeout.
	StageWallclockTimeoutSeconds int `json:"stageWallclockTimeoutSeconds"`
}

// Load returns config with defaults overridden by pipeline-config.json and
// env vars.
func Load() *Config {
	cfg := defaults()
	loadFile(cfg, "pipeline-config.json")
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		Tier:                    "restricted",
		ConcurrencyRestricted:   1,
		ConcurrencyUnrestricted: 10,
		RateWindowSeconds:       60,
		RateWindowBudget:        14,
		OCRTimeoutSeconds:       30,
		RetryMax:                3,
		RetryBackoffBaseSeconds: 1,
		RetryBackoffCapSeconds:  8,
		MatchFallbackThreshold:  70,
		MatchTimeWindowSeconds:  120,
		HeroStackTolerance:      0.25,
		OtherStacksTolerance:    0.30,
		OtherStacksMinFraction:  0.5,
		FuzzyNameThreshold:      0.70,
		LogLevel:                "info",
		OCRCacheFile:            "ocr-cache.db",
		StorageDir:              "jobs",
	}
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path) //nolint:gosec // G703: path is a controlled config file path, not user input
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
	} else {
		log.Printf("[CONFIG] Loaded %s", path)
	}
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("PIPELINE_TIER"); v != "" {
		cfg.Tier = v
	}
	if v := os.Getenv("CONCURRENCY_RESTRICTED"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ConcurrencyRestricted = n
		}
	}
	if v := os.Getenv("CONCURRENCY_UNRESTRICTED"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ConcurrencyUnrestricted = n
		}
	}
	if v := os.Getenv("RATE_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateWindowSeconds = n
		}
	}
	if v := os.Getenv("RATE_WINDOW_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateWindowBudget = n
		}
	}
	if v := os.Getenv("OCR_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.OCRTimeoutSeconds = n
		}
	}
	if v := os.Getenv("RETRY_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RetryMax = n
		}
	}
	if v := os.Getenv("MATCH_FALLBACK_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MatchFallbackThreshold = n
		}
	}
	if v := os.Getenv("FUZZY_NAME_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.FuzzyNameThreshold = f
		}
	}
	if v := os.Getenv("OCR_ENDPOINT_A"); v != "" {
		cfg.OCREndpointA = v
	}
	if v := os.Getenv("OCR_ENDPOINT_B"); v != "" {
		cfg.OCREndpointB = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("OCR_CACHE_FILE"); v != "" {
		cfg.OCRCacheFile = v
	}
	if v := os.Getenv("STORAGE_DIR"); v != "" {
		cfg.StorageDir = v
	}
}
