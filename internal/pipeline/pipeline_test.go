package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/clickmediapropy/ggrevealer/internal/config"
	"github.com/clickmediapropy/ggrevealer/internal/domain"
	"github.com/clickmediapropy/ggrevealer/internal/ocr"
	"github.com/clickmediapropy/ggrevealer/internal/storage"
)

// fakeOCR is a canned ocr.Port keyed by screenshot filename.
type fakeOCR struct {
	a    map[string]domain.OCRAResult
	aErr map[string]error
	b    map[string]domain.OCRBPayload
	bErr map[string]error
}

func (f *fakeOCR) OCRA(ctx context.Context, s domain.Screenshot) (domain.OCRAResult, error) {
	if err, ok := f.aErr[s.Filename]; ok {
		return domain.OCRAResult{}, err
	}
	return f.a[s.Filename], nil
}

func (f *fakeOCR) OCRB(ctx context.Context, s domain.Screenshot) (domain.OCRBPayload, error) {
	if err, ok := f.bErr[s.Filename]; ok {
		return domain.OCRBPayload{}, err
	}
	return f.b[s.Filename], nil
}

// fakeStore is an in-memory storage.Port, optionally failing on SaveJob.
type fakeStore struct {
	failSaveJob bool
	jobs        map[string]storage.JobRecord
	outcomes    map[string][]storage.ScreenshotOutcome
	files       map[string][]storage.RewrittenFile
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:     make(map[string]storage.JobRecord),
		outcomes: make(map[string][]storage.ScreenshotOutcome),
		files:    make(map[string][]storage.RewrittenFile),
	}
}

func (s *fakeStore) SaveJob(ctx context.Context, job storage.JobRecord) error {
	if s.failSaveJob {
		return errors.New("disk full")
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *fakeStore) SaveScreenshotOutcomes(ctx context.Context, jobID string, outcomes []storage.ScreenshotOutcome) error {
	s.outcomes[jobID] = outcomes
	return nil
}

func (s *fakeStore) SaveRewrittenFiles(ctx context.Context, jobID string, files []storage.RewrittenFile) error {
	s.files[jobID] = files
	return nil
}

func (s *fakeStore) LoadJob(ctx context.Context, jobID string) (storage.JobRecord, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return storage.JobRecord{}, errors.New("not found")
	}
	return job, nil
}

func testConfig() *config.Config {
	return &config.Config{
		ConcurrencyRestricted:   2,
		ConcurrencyUnrestricted: 4,
		RateWindowSeconds:       0,
		RateWindowBudget:        0,
		OCRTimeoutSeconds:       5,
		RetryMax:                0,
		RetryBackoffBaseSeconds: 0.01,
		RetryBackoffCapSeconds:  0.1,
		MatchFallbackThreshold:  70,
		MatchTimeWindowSeconds:  0,
		HeroStackTolerance:      0.1,
		OtherStacksTolerance:    0.1,
		OtherStacksMinFraction:  0.5,
		FuzzyNameThreshold:      0.85,
	}
}

// buildHand returns a 3-seat hand (button/small_blind/big_blind, hero in the
// small blind) whose RawText exercises the seat-declaration and
// action-verb rewrite contexts.
func buildHand(id, tableID string) *domain.Hand {
	raw := `Hand #` + id + `: Table '` + tableID + `' Seat #1 is the button - 2024-01-01 12:00:00
Seat 1: a1b2c3d4 (1000 in chips)
Seat 2: Hero (1500 in chips)
Seat 3: ffeeddcc (2000 in chips)
a1b2c3d4: folds
Hero: checks
ffeeddcc: folds
`
	return &domain.Hand{
		ID:         id,
		RawID:      id,
		TableID:    tableID,
		Timestamp:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		RawText:    raw,
		SourceFile: "hands1.txt",
		Seats: []domain.Seat{
			{Number: 1, Identifier: "a1b2c3d4", StartingStack: 1000, Role: domain.RoleButton},
			{Number: 2, Identifier: domain.HeroPlaceholder, StartingStack: 1500, Role: domain.RoleSmallBlind},
			{Number: 3, Identifier: "ffeeddcc", StartingStack: 2000, Role: domain.RoleBigBlind},
		},
	}
}

func buildFile(hand *domain.Hand) *domain.HandHistoryFile {
	return &domain.HandHistoryFile{
		Filename: hand.SourceFile,
		RawText:  hand.RawText,
		Hands:    []*domain.Hand{hand},
	}
}

func buildPayload() domain.OCRBPayload {
	return domain.OCRBPayload{
		Players: []domain.OCRPlayer{
			{Name: "Bob", Role: domain.OCRRoleDealer, Stack: 1000},
			{Name: "Dana", Role: domain.OCRRoleSmallBlind, Stack: 1500},
			{Name: "Carol", Role: domain.OCRRoleBigBlind, Stack: 2000},
		},
		Hero: domain.OCRPlayer{Name: "Dana", Role: domain.OCRRoleSmallBlind, Stack: 1500},
	}
}

func TestRun_HappyPath_MatchesMapsRewritesAndPersists(t *testing.T) {
	hand := buildHand("1", "T1")
	job := &domain.Job{
		ID:     "job1",
		Tier:   domain.TierUnrestricted,
		Status: domain.StatusInitialized,
		Files:  []*domain.HandHistoryFile{buildFile(hand)},
		Screenshots: []*domain.Screenshot{
			{Filename: "s1.png", Timestamp: hand.Timestamp},
		},
		CreatedAt: time.Now(),
	}

	port := &fakeOCR{
		a:    map[string]domain.OCRAResult{"s1.png": {Found: true, HandID: "1"}},
		aErr: map[string]error{},
		b:    map[string]domain.OCRBPayload{"s1.png": buildPayload()},
		bErr: map[string]error{},
	}
	store := newFakeStore()

	p := New(testConfig(), nil, nil, port, nil, store, nil)
	if err := p.Run(context.Background(), job, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if job.Status != domain.StatusCompleted {
		t.Fatalf("job.Status = %q, want completed", job.Status)
	}
	if len(job.Errors) != 0 {
		t.Fatalf("unexpected job errors: %v", job.Errors)
	}

	tm := job.TableMappings["T1"]
	if tm == nil {
		t.Fatal("expected a TableMapping for T1")
	}
	want := map[string]string{"a1b2c3d4": "Bob", domain.HeroPlaceholder: "Dana", "ffeeddcc": "Carol"}
	for id, name := range want {
		if tm.Accepted[id] != name {
			t.Errorf("Accepted[%q] = %q, want %q", id, tm.Accepted[id], name)
		}
	}

	rewritten := job.Files[0].Hands[0].RawText
	if !strings.Contains(rewritten, "Seat 1: Bob (1000 in chips)") {
		t.Errorf("seat declaration not rewritten, got:\n%s", rewritten)
	}
	if !strings.Contains(rewritten, "Bob: folds") {
		t.Errorf("action line not rewritten, got:\n%s", rewritten)
	}
	if job.Files[0].Classification != "clean" {
		t.Errorf("Classification = %q, want clean", job.Files[0].Classification)
	}

	if _, ok := store.jobs["job1"]; !ok {
		t.Error("expected job1 to be persisted")
	}
	if _, ok := store.files["job1"]; !ok {
		t.Error("expected rewritten files to be persisted")
	}
}

func TestRun_OCRAPermanentFailureRecordedNotFatal(t *testing.T) {
	hand := buildHand("2", "T2")
	job := &domain.Job{
		ID:     "job2",
		Tier:   domain.TierUnrestricted,
		Status: domain.StatusInitialized,
		Files:  []*domain.HandHistoryFile{buildFile(hand)},
		Screenshots: []*domain.Screenshot{
			{Filename: "bad.png", Timestamp: hand.Timestamp},
		},
		CreatedAt: time.Now(),
	}

	port := &fakeOCR{
		a:    map[string]domain.OCRAResult{},
		aErr: map[string]error{"bad.png": ocr.Permanent(errors.New("model declined"))},
		b:    map[string]domain.OCRBPayload{"bad.png": {Players: []domain.OCRPlayer{{Name: "X"}}}},
		bErr: map[string]error{},
	}
	store := newFakeStore()

	p := New(testConfig(), nil, nil, port, nil, store, nil)
	if err := p.Run(context.Background(), job, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if job.Status != domain.StatusCompleted {
		t.Fatalf("job.Status = %q, want completed despite the ocr failure", job.Status)
	}
	foundPermanent := false
	for _, e := range job.Errors {
		if e.Kind == "ocr_permanent" {
			foundPermanent = true
		}
	}
	if !foundPermanent {
		t.Errorf("expected an ocr_permanent error recorded, got: %v", job.Errors)
	}
}

func TestRun_StorageFailureIsFatal(t *testing.T) {
	hand := buildHand("3", "T3")
	job := &domain.Job{
		ID:          "job3",
		Tier:        domain.TierUnrestricted,
		Status:      domain.StatusInitialized,
		Files:       []*domain.HandHistoryFile{buildFile(hand)},
		Screenshots: nil,
		CreatedAt:   time.Now(),
	}

	port := &fakeOCR{}
	store := newFakeStore()
	store.failSaveJob = true

	p := New(testConfig(), nil, nil, port, nil, store, nil)
	err := p.Run(context.Background(), job, nil)
	if err == nil {
		t.Fatal("expected a fatal error from the failing storage port")
	}
	if job.Status != domain.StatusFailed {
		t.Errorf("job.Status = %q, want failed", job.Status)
	}
}

func TestRun_AlreadyCancelledContextAborts(t *testing.T) {
	hand := buildHand("4", "T4")
	job := &domain.Job{
		ID:     "job4",
		Tier:   domain.TierUnrestricted,
		Status: domain.StatusInitialized,
		Files:  []*domain.HandHistoryFile{buildFile(hand)},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(testConfig(), nil, nil, &fakeOCR{}, nil, newFakeStore(), nil)
	err := p.Run(ctx, job, nil)
	if err == nil {
		t.Fatal("expected an error for an already-cancelled context")
	}
	if job.Status != domain.StatusCancelled {
		t.Errorf("job.Status = %q, want cancelled", job.Status)
	}
}

