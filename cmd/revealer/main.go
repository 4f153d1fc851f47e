// Command revealer runs one de-anonymization job end to end: it reads hand
// history text files and screenshot images from disk, drives them through
// the eight-stage pipeline, and writes the rewritten hand histories plus job
// metadata to the configured storage directory.
//
// Usage:
//
//	./revealer -hands ./hands -screenshots ./screenshots
//
//	# Override the configured tier for this run
//	./revealer -hands ./hands -screenshots ./screenshots -tier unrestricted
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/clickmediapropy/ggrevealer/internal/config"
	"github.com/clickmediapropy/ggrevealer/internal/domain"
	"github.com/clickmediapropy/ggrevealer/internal/logger"
	"github.com/clickmediapropy/ggrevealer/internal/metrics"
	"github.com/clickmediapropy/ggrevealer/internal/ocr"
	"github.com/clickmediapropy/ggrevealer/internal/ocrcache"
	"github.com/clickmediapropy/ggrevealer/internal/pipeline"
	"github.com/clickmediapropy/ggrevealer/internal/storage"
)

func main() {
	handsDir := flag.String("hands", "", "directory of hand-history text files (required)")
	screenshotsDir := flag.String("screenshots", "", "directory of screenshot images (required)")
	tier := flag.String("tier", "", "override the configured tier (restricted|unrestricted)")
	flag.Parse()

	if *handsDir == "" || *screenshotsDir == "" {
		fmt.Fprintln(os.Stderr, "revealer: -hands and -screenshots are both required")
		os.Exit(2)
	}

	cfg := config.Load()
	if *tier != "" {
		cfg.Tier = *tier
	}

	printBanner(cfg, *handsDir, *screenshotsDir)

	log := logger.New("revealer", cfg.LogLevel)
	met := metrics.New()

	backing, err := ocrcache.New(cfg.OCRCacheFile)
	if err != nil {
		log.Fatalf("startup", "open ocr cache %s: %v", cfg.OCRCacheFile, err)
	}
	cache := ocrcache.NewStore(backing)
	defer func() {
		if err := cache.Close(); err != nil {
			log.Warnf("shutdown", "ocr cache close: %v", err)
		}
	}()

	if cfg.OCREndpointA == "" || cfg.OCREndpointB == "" {
		log.Fatalf("startup", "ocrEndpointA and ocrEndpointB must both be configured")
	}
	ocrPort, err := ocr.NewHTTPClient(cfg.OCREndpointA, cfg.OCREndpointB)
	if err != nil {
		log.Fatalf("startup", "build ocr client: %v", err)
	}

	store := storage.NewFileStore(cfg.StorageDir)

	job, err := buildJob(cfg, *handsDir, *screenshotsDir)
	if err != nil {
		log.Fatalf("startup", "build job: %v", err)
	}

	p := pipeline.New(cfg, log, met, ocrPort, cache, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Infof("shutdown", "cancellation requested, aborting after the current stage")
		cancel()
	}()

	runErr := p.Run(ctx, job, progressLogger(log))

	fmt.Printf("job %s: status=%s hands=%d errors=%d\n", job.ID, job.Status, len(job.AllHands()), len(job.Errors))
	for _, e := range job.Errors {
		fmt.Printf("  - [%s] %s: %s\n", e.Kind, e.Input, e.Detail)
	}

	if runErr != nil {
		log.Errorf("run", "job failed: %v", runErr)
		os.Exit(1)
	}
}

// progressLogger logs one line per completed stage.
func progressLogger(log *logger.Logger) pipeline.ProgressFunc {
	return func(ev pipeline.ProgressEvent) {
		log.Infof("stage_complete", "%s finished in %s", ev.Stage, ev.Elapsed)
	}
}

// buildJob reads every file in handsDir as a hand-history text file and every
// file in screenshotsDir as a screenshot, assigning each screenshot's
// timestamp from its file modification time (no more reliable clock is
// available once a screenshot reaches disk).
func buildJob(cfg *config.Config, handsDir, screenshotsDir string) (*domain.Job, error) {
	handEntries, err := os.ReadDir(handsDir)
	if err != nil {
		return nil, fmt.Errorf("read hands dir %s: %w", handsDir, err)
	}

	var files []*domain.HandHistoryFile
	for _, entry := range handEntries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(handsDir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read hand history file %s: %w", path, err)
		}
		files = append(files, &domain.HandHistoryFile{
			Filename: entry.Name(),
			RawText:  string(content),
		})
	}

	shotEntries, err := os.ReadDir(screenshotsDir)
	if err != nil {
		return nil, fmt.Errorf("read screenshots dir %s: %w", screenshotsDir, err)
	}

	var screenshots []*domain.Screenshot
	for _, entry := range shotEntries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(screenshotsDir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read screenshot %s: %w", path, err)
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat screenshot %s: %w", path, err)
		}
		screenshots = append(screenshots, &domain.Screenshot{
			Filename:  entry.Name(),
			Content:   content,
			Timestamp: info.ModTime(),
		})
	}

	tier := domain.Tier(cfg.Tier)
	if tier != domain.TierRestricted && tier != domain.TierUnrestricted {
		return nil, fmt.Errorf("unrecognized tier %q", cfg.Tier)
	}

	return &domain.Job{
		ID:          newJobID(),
		Tier:        tier,
		Status:      domain.StatusInitialized,
		Files:       files,
		Screenshots: screenshots,
		CreatedAt:   time.Now(),
	}, nil
}

func newJobID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("job-%d", time.Now().UnixNano())
	}
	return "job-" + hex.EncodeToString(b)
}

func printBanner(cfg *config.Config, handsDir, screenshotsDir string) {
	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║              Hand History Revealer  (Go)              ║
╚══════════════════════════════════════════════════════╝
  Tier              : %s
  Hands dir         : %s
  Screenshots dir   : %s
  OCR-A endpoint    : %s
  OCR-B endpoint    : %s
  OCR cache         : %s
  Storage dir       : %s
`, cfg.Tier, handsDir, screenshotsDir, cfg.OCREndpointA, cfg.OCREndpointB, cfg.OCRCacheFile, cfg.StorageDir)
}
