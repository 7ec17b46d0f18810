package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"inkwell/internal/platform/database"
	"inkwell/internal/platform/models"
	"inkwell/internal/platform/repositories"
	"inkwell/internal/queue"
)

type fakeResearcher struct {
	results []SourceResult
	err     error
}

func (f *fakeResearcher) Search(ctx context.Context, topic string, limit int) ([]SourceResult, error) {
	return f.results, f.err
}

type fakeFetcher struct {
	texts map[string]string // url -> content, missing url means fetch failure
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	text, ok := f.texts[url]
	if !ok {
		return "", errors.New("fetch failed")
	}
	return text, nil
}

type fakeGenerator struct {
	brief    *BriefDraft
	briefErr error
	write    *WriteResult
	writeErr error
}

func (f *fakeGenerator) GenerateTitles(ctx context.Context, topic string, count int) ([]string, error) {
	return nil, errors.New("not used")
}

func (f *fakeGenerator) Analyze(ctx context.Context, req AnalyzeRequest) (*BriefDraft, error) {
	return f.brief, f.briefErr
}

func (f *fakeGenerator) Write(ctx context.Context, req WriteRequest) (*WriteResult, error) {
	return f.write, f.writeErr
}

type fakeNotifier struct {
	jobID  string
	tokens int
	calls  int
}

func (f *fakeNotifier) JobComplete(ctx context.Context, jobID string, tokensUsed int) error {
	f.jobID = jobID
	f.tokens = tokensUsed
	f.calls++
	return nil
}

func setupJob(t *testing.T, scheduledAt *int64) (*repositories.JobRepository, *models.Job) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	now := time.Now().Unix()
	if _, err := db.Exec(`
		INSERT INTO accounts (id, username, email, password_hash, credits, plan, created_at, updated_at)
		VALUES ('acc1', 'u', 'u@example.com', 'x', 10, 'free', ?, ?)
	`, now, now); err != nil {
		t.Fatalf("Failed to insert account: %v", err)
	}

	repo := repositories.NewJobRepository(db)
	job := &models.Job{
		AccountID:    "acc1",
		RawQuery:     "go generics",
		Topic:        "Understanding Go Generics",
		Category:     "Tech",
		TargetLength: 1500,
		SourceCount:  5,
		ScheduledAt:  scheduledAt,
	}
	if err := repo.Create(job); err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	return repo, job
}

func sources(n int) []SourceResult {
	var out []SourceResult
	for i := 0; i < n; i++ {
		out = append(out, SourceResult{
			URL:   fmt.Sprintf("https://s%d.example", i),
			Title: fmt.Sprintf("Source %d", i),
		})
	}
	return out
}

func texts(results []SourceResult) map[string]string {
	m := make(map[string]string)
	for _, r := range results {
		m[r.URL] = "content of " + r.URL
	}
	return m
}

func msg(job *models.Job) queue.Message {
	return queue.Message{
		JobID:        job.ID,
		Topic:        job.Topic,
		Category:     job.Category,
		TargetLength: job.TargetLength,
		SourceCount:  job.SourceCount,
	}
}

func happyGenerator() *fakeGenerator {
	return &fakeGenerator{
		brief: &BriefDraft{Keywords: []string{"go", "generics"}, Outline: `[{"h2":"Intro"}]`, Strategy: "tutorial"},
		write: &WriteResult{Content: "# Understanding Go Generics\n\nBody.", TokensUsed: 3200},
	}
}

func TestProcessCompletesJob(t *testing.T) {
	repo, job := setupJob(t, nil)
	res := sources(5)
	notifier := &fakeNotifier{}
	r := NewRunner(repo, &fakeResearcher{results: res}, &fakeFetcher{texts: texts(res)},
		happyGenerator(), notifier, time.Minute, 4)

	if err := r.Process(context.Background(), msg(job)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	final, _ := repo.GetByID(job.ID)
	if final.Status != models.StatusCompleted {
		t.Errorf("status = %q, want completed", final.Status)
	}
	if final.Content == "" {
		t.Error("content not persisted")
	}

	saved, _ := repo.SourcesByJob(job.ID)
	if len(saved) != 5 {
		t.Errorf("persisted %d sources, want 5", len(saved))
	}
	brief, _ := repo.BriefByJob(job.ID)
	if brief == nil || len(brief.Keywords) == 0 {
		t.Errorf("brief missing or empty: %+v", brief)
	}
	if notifier.calls != 1 || notifier.jobID != job.ID || notifier.tokens != 3200 {
		t.Errorf("notifier: calls=%d job=%q tokens=%d", notifier.calls, notifier.jobID, notifier.tokens)
	}
}

func TestProcessSchedulesFutureJob(t *testing.T) {
	future := time.Now().Add(2 * time.Hour).Unix()
	repo, job := setupJob(t, &future)
	res := sources(3)
	r := NewRunner(repo, &fakeResearcher{results: res}, &fakeFetcher{texts: texts(res)},
		happyGenerator(), &fakeNotifier{}, time.Minute, 4)

	if err := r.Process(context.Background(), msg(job)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	final, _ := repo.GetByID(job.ID)
	if final.Status != models.StatusScheduled {
		t.Errorf("status = %q, want scheduled", final.Status)
	}
}

func TestProcessZeroSearchResultsFailsHard(t *testing.T) {
	repo, job := setupJob(t, nil)
	notifier := &fakeNotifier{}
	r := NewRunner(repo, &fakeResearcher{results: nil}, &fakeFetcher{},
		happyGenerator(), notifier, time.Minute, 4)

	if err := r.Process(context.Background(), msg(job)); err != nil {
		t.Fatalf("hard failure should be absorbed, got %v", err)
	}

	final, _ := repo.GetByID(job.ID)
	if final.Status != models.StatusFailed {
		t.Errorf("status = %q, want failed", final.Status)
	}
	if final.ErrorMessage == "" {
		t.Error("error message not recorded")
	}
	saved, _ := repo.SourcesByJob(job.ID)
	if len(saved) != 0 {
		t.Errorf("no sources should persist, got %d", len(saved))
	}
	if notifier.calls != 0 {
		t.Error("notifier must not fire for failed jobs")
	}
}

func TestProcessAllScrapesFailedFailsHard(t *testing.T) {
	repo, job := setupJob(t, nil)
	r := NewRunner(repo, &fakeResearcher{results: sources(3)}, &fakeFetcher{texts: nil},
		happyGenerator(), &fakeNotifier{}, time.Minute, 4)

	if err := r.Process(context.Background(), msg(job)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	final, _ := repo.GetByID(job.ID)
	if final.Status != models.StatusFailed {
		t.Errorf("status = %q, want failed", final.Status)
	}
}

func TestProcessPartialScrapeSurvives(t *testing.T) {
	repo, job := setupJob(t, nil)
	res := sources(4)
	partial := map[string]string{res[1].URL: "only this one worked"}
	r := NewRunner(repo, &fakeResearcher{results: res}, &fakeFetcher{texts: partial},
		happyGenerator(), &fakeNotifier{}, time.Minute, 4)

	if err := r.Process(context.Background(), msg(job)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	final, _ := repo.GetByID(job.ID)
	if final.Status != models.StatusCompleted {
		t.Errorf("status = %q, want completed", final.Status)
	}
	saved, _ := repo.SourcesByJob(job.ID)
	if len(saved) != 1 {
		t.Errorf("persisted %d sources, want 1", len(saved))
	}
}

// A broken brief must never fail the job; writing proceeds with an
// empty one.
func TestProcessAnalyzeFailureContinues(t *testing.T) {
	repo, job := setupJob(t, nil)
	res := sources(3)
	gen := happyGenerator()
	gen.brief = nil
	gen.briefErr = errors.New("model returned garbage")
	r := NewRunner(repo, &fakeResearcher{results: res}, &fakeFetcher{texts: texts(res)},
		gen, &fakeNotifier{}, time.Minute, 4)

	if err := r.Process(context.Background(), msg(job)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	final, _ := repo.GetByID(job.ID)
	if final.Status != models.StatusCompleted {
		t.Errorf("status = %q, want completed", final.Status)
	}
	brief, _ := repo.BriefByJob(job.ID)
	if brief == nil {
		t.Fatal("empty brief should still be persisted")
	}
	if len(brief.Keywords) != 0 {
		t.Errorf("expected empty keywords, got %v", brief.Keywords)
	}
}

func TestProcessWriteFailureFailsJob(t *testing.T) {
	repo, job := setupJob(t, nil)
	res := sources(3)
	gen := happyGenerator()
	gen.write = nil
	gen.writeErr = errors.New("generation timed out")
	r := NewRunner(repo, &fakeResearcher{results: res}, &fakeFetcher{texts: texts(res)},
		gen, &fakeNotifier{}, time.Minute, 4)

	if err := r.Process(context.Background(), msg(job)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	final, _ := repo.GetByID(job.ID)
	if final.Status != models.StatusFailed {
		t.Errorf("status = %q, want failed", final.Status)
	}
}

func TestProcessTruncatesToSourceCount(t *testing.T) {
	repo, job := setupJob(t, nil)
	res := sources(8) // researcher over-delivers
	r := NewRunner(repo, &fakeResearcher{results: res}, &fakeFetcher{texts: texts(res)},
		happyGenerator(), &fakeNotifier{}, time.Minute, 4)

	if err := r.Process(context.Background(), msg(job)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	saved, _ := repo.SourcesByJob(job.ID)
	if len(saved) != 5 {
		t.Errorf("persisted %d sources, want 5 (the job's source count)", len(saved))
	}
}

// Redelivery of a message for a finished job is acknowledged without
// touching the job.
func TestProcessSkipsFinishedJob(t *testing.T) {
	repo, job := setupJob(t, nil)
	mustAdvance(t, repo, job.ID, models.StatusResearching, models.StatusScraping, models.StatusWriting)
	if err := repo.Finalize(job.ID, "done", models.StatusCompleted); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	notifier := &fakeNotifier{}
	r := NewRunner(repo, &fakeResearcher{}, &fakeFetcher{}, happyGenerator(), notifier, time.Minute, 4)
	if err := r.Process(context.Background(), msg(job)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	final, _ := repo.GetByID(job.ID)
	if final.Status != models.StatusCompleted || final.Content != "done" {
		t.Errorf("finished job was touched: %+v", final)
	}
	if notifier.calls != 0 {
		t.Error("notifier must not fire on skip")
	}
}

func mustAdvance(t *testing.T, repo *repositories.JobRepository, id string, stages ...string) {
	t.Helper()
	for _, s := range stages {
		if err := repo.AdvanceStatus(id, s); err != nil {
			t.Fatalf("AdvanceStatus(%s): %v", s, err)
		}
	}
}
