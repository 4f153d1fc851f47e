// Package storage persists job results (spec §6 Storage port). The pipeline
// treats the port as durable and at-least-once-writable: every write here is
// a full overwrite via atomic temp-file-then-rename, so retrying a write
// after a crash or a transient disk error is always safe.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/clickmediapropy/ggrevealer/internal/domain"
)

// JobRecord is the durable summary of one job.
type JobRecord struct {
	ID        string           `json:"id"`
	Tier      domain.Tier      `json:"tier"`
	Status    domain.JobStatus `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
}

// ScreenshotOutcome is one screenshot's final binding and derived mapping.
type ScreenshotOutcome struct {
	Filename      string            `json:"filename"`
	MatchedHandID string            `json:"matchedHandId,omitempty"` // empty if unmatched
	Confidence    int               `json:"confidence,omitempty"`
	Mapping       map[string]string `json:"mapping,omitempty"`
}

// RewrittenFile is one hand-history file's rewritten content plus its final
// classification.
type RewrittenFile struct {
	Filename       string `json:"filename"`
	Content        string `json:"content"`
	Classification string `json:"classification"`
}

// Port is the durable-storage collaborator (spec §6). Reads are by job
// identifier; every write must be safe to retry.
type Port interface {
	SaveJob(ctx context.Context, job JobRecord) error
	SaveScreenshotOutcomes(ctx context.Context, jobID string, outcomes []ScreenshotOutcome) error
	SaveRewrittenFiles(ctx context.Context, jobID string, files []RewrittenFile) error
	LoadJob(ctx context.Context, jobID string) (JobRecord, error)
}

// FileStore is a file-backed reference implementation of Port. Each job gets
// its own directory under baseDir: job.json, screenshots.json, a files.json
// manifest, and a files/ subdirectory with one <filename>.txt per rewritten
// file.
type FileStore struct {
	baseDir string
}

// NewFileStore returns a FileStore rooted at baseDir. baseDir is created on
// first write if it doesn't already exist.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

func (fs *FileStore) jobDir(jobID string) string {
	return filepath.Join(fs.baseDir, jobID)
}

// SaveJob writes job.json for jobID, creating the job's directory if needed.
func (fs *FileStore) SaveJob(ctx context.Context, job JobRecord) error {
	dir := fs.jobDir(job.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create job dir %s: %w", dir, err)
	}
	return writeJSONAtomic(filepath.Join(dir, "job.json"), job)
}

// LoadJob reads job.json for jobID.
func (fs *FileStore) LoadJob(ctx context.Context, jobID string) (JobRecord, error) {
	var job JobRecord
	data, err := os.ReadFile(filepath.Join(fs.jobDir(jobID), "job.json"))
	if err != nil {
		return JobRecord{}, fmt.Errorf("read job %s: %w", jobID, err)
	}
	if err := json.Unmarshal(data, &job); err != nil {
		return JobRecord{}, fmt.Errorf("parse job %s: %w", jobID, err)
	}
	return job, nil
}

// SaveScreenshotOutcomes writes the full outcome list for jobID, overwriting
// whatever was previously recorded.
func (fs *FileStore) SaveScreenshotOutcomes(ctx context.Context, jobID string, outcomes []ScreenshotOutcome) error {
	dir := fs.jobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create job dir %s: %w", dir, err)
	}
	return writeJSONAtomic(filepath.Join(dir, "screenshots.json"), outcomes)
}

// SaveRewrittenFiles writes one text file per rewritten hand-history file
// plus a manifest recording each file's classification.
func (fs *FileStore) SaveRewrittenFiles(ctx context.Context, jobID string, files []RewrittenFile) error {
	dir := filepath.Join(fs.jobDir(jobID), "files")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create files dir %s: %w", dir, err)
	}

	type manifestEntry struct {
		Filename       string `json:"filename"`
		Classification string `json:"classification"`
	}
	manifest := make([]manifestEntry, 0, len(files))

	for _, f := range files {
		path := filepath.Join(dir, f.Filename+".txt")
		if err := writeFileAtomic(path, []byte(f.Content)); err != nil {
			return fmt.Errorf("write rewritten file %s: %w", f.Filename, err)
		}
		manifest = append(manifest, manifestEntry{Filename: f.Filename, Classification: f.Classification})
	}

	return writeJSONAtomic(filepath.Join(fs.jobDir(jobID), "files.json"), manifest)
}

// writeJSONAtomic marshals v and writes it to path via writeFileAtomic.
func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return writeFileAtomic(path, append(data, '\n'))
}

// writeFileAtomic writes data to path via a temp file in the same directory
// followed by a rename, so a reader never observes a partial write and a
// crash mid-write never corrupts the previous contents.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s to %s: %w", tmpName, path, err)
	}
	return nil
}
