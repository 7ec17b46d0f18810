package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"inkwell/internal/engine/ledger"
	"inkwell/internal/platform/database"
	"inkwell/internal/platform/models"
	"inkwell/internal/platform/repositories"
	"inkwell/internal/queue"
)

type fakeTitles struct {
	titles    []string
	err       error
	lastCount int
}

func (f *fakeTitles) GenerateTitles(ctx context.Context, topic string, count int) ([]string, error) {
	f.lastCount = count
	return f.titles, f.err
}

type recordingQueue struct {
	published []queue.Message
}

func (q *recordingQueue) Publish(ctx context.Context, msg queue.Message) error {
	q.published = append(q.published, msg)
	return nil
}

func (q *recordingQueue) Consume(ctx context.Context, workers int, handler queue.Handler) error {
	return errors.New("not used")
}

func (q *recordingQueue) Close() error { return nil }

type fixture struct {
	db        *sql.DB
	campaigns *repositories.CampaignRepository
	jobs      *repositories.JobRepository
	credits   *ledger.Ledger
	queue     *recordingQueue
}

func setup(t *testing.T, balance int) *fixture {
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
		VALUES ('acc1', 'u', 'u@example.com', 'x', ?, 'free', ?, ?)
	`, balance, now, now); err != nil {
		t.Fatalf("Failed to insert account: %v", err)
	}

	return &fixture{
		db:        db,
		campaigns: repositories.NewCampaignRepository(db),
		jobs:      repositories.NewJobRepository(db),
		credits:   ledger.New(db),
		queue:     &recordingQueue{},
	}
}

func (f *fixture) scheduler(t *testing.T, titles TitleGenerator, now time.Time) *Scheduler {
	t.Helper()
	s := New(f.campaigns, f.jobs, f.credits, titles, f.queue)
	s.now = func() time.Time { return now }
	return s
}

func (f *fixture) campaign(t *testing.T, perDay int, postingTimes []string, total *int) *models.Campaign {
	t.Helper()
	c := &models.Campaign{
		AccountID:      "acc1",
		Name:           "daily go",
		Topic:          "golang",
		Category:       "Tech",
		ArticlesPerDay: perDay,
		PostingTimes:   postingTimes,
		StartDate:      "2026-01-01",
		TotalArticles:  total,
		TargetLength:   1500,
		SourceCount:    5,
		Status:         models.CampaignActive,
	}
	if err := f.campaigns.Create(c); err != nil {
		t.Fatalf("Create campaign: %v", err)
	}
	return c
}

func TestRunCampaignCreatesBatch(t *testing.T) {
	f := setup(t, 10)
	c := f.campaign(t, 3, []string{"09:00", "13:00"}, nil)
	now := time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)
	gen := &fakeTitles{titles: []string{"T1", "T2", "T3", "T4"}}
	s := f.scheduler(t, gen, now)

	if err := s.RunCampaign(context.Background(), c); err != nil {
		t.Fatalf("RunCampaign: %v", err)
	}

	// The generator is asked for exactly the day's quota.
	if gen.lastCount != 3 {
		t.Errorf("requested %d titles, want 3", gen.lastCount)
	}

	jobs, err := f.jobs.List("acc1", 50, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("created %d jobs, want 3", len(jobs))
	}
	for _, j := range jobs {
		if !j.IsRecurring || j.CampaignID == nil || *j.CampaignID != c.ID {
			t.Errorf("job not tied to campaign: %+v", j)
		}
	}

	// Slot mapping: first two titles take the configured times, the
	// overflow article reuses the first slot.
	wantSlots := map[int64]int{
		time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC).Unix():  2,
		time.Date(2026, 8, 28, 13, 0, 0, 0, time.UTC).Unix(): 1,
	}
	gotSlots := map[int64]int{}
	for _, j := range jobs {
		if j.ScheduledAt == nil {
			t.Fatalf("job %s has no scheduled time", j.ID)
		}
		gotSlots[*j.ScheduledAt]++
	}
	for slot, want := range wantSlots {
		if gotSlots[slot] != want {
			t.Errorf("slot %d used %d times, want %d", slot, gotSlots[slot], want)
		}
	}

	if len(f.queue.published) != 3 {
		t.Errorf("published %d messages, want 3", len(f.queue.published))
	}

	balance, _ := f.credits.Balance(context.Background(), "acc1")
	if balance != 7 {
		t.Errorf("balance = %d, want 7", balance)
	}

	fetched, _ := f.campaigns.GetByID(c.ID)
	if fetched.ArticlesGenerated != 3 || fetched.CreditsUsed != 3 || fetched.LastRunAt == nil {
		t.Errorf("commit state: %+v", fetched)
	}
}

func TestRunCampaignDedupesTitles(t *testing.T) {
	f := setup(t, 10)
	c := f.campaign(t, 2, nil, nil)
	now := time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)

	for _, topic := range []string{"A", "B"} {
		job := &models.Job{AccountID: "acc1", CampaignID: &c.ID, RawQuery: "golang", Topic: topic}
		if err := f.jobs.Create(job); err != nil {
			t.Fatalf("Create job: %v", err)
		}
	}

	s := f.scheduler(t, &fakeTitles{titles: []string{"A", "C", "D"}}, now)
	if err := s.RunCampaign(context.Background(), c); err != nil {
		t.Fatalf("RunCampaign: %v", err)
	}

	topics, _ := f.jobs.TopicsByCampaign(c.ID)
	seen := map[string]bool{}
	for _, topic := range topics {
		seen[topic] = true
	}
	if len(topics) != 4 || !seen["C"] || !seen["D"] {
		t.Errorf("topics after run: %v", topics)
	}
}

func TestRunCampaignPausesOnInsufficientCredits(t *testing.T) {
	f := setup(t, 1)
	c := f.campaign(t, 3, nil, nil)
	now := time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)
	s := f.scheduler(t, &fakeTitles{titles: []string{"T1", "T2", "T3"}}, now)

	if err := s.RunCampaign(context.Background(), c); err != nil {
		t.Fatalf("RunCampaign: %v", err)
	}

	fetched, _ := f.campaigns.GetByID(c.ID)
	if fetched.Status != models.CampaignPaused {
		t.Errorf("status = %q, want paused", fetched.Status)
	}
	jobs, _ := f.jobs.List("acc1", 50, 0)
	if len(jobs) != 0 {
		t.Errorf("no jobs should exist, got %d", len(jobs))
	}
	if len(f.queue.published) != 0 {
		t.Errorf("nothing should be enqueued, got %d", len(f.queue.published))
	}
}

// drainTitles steals a credit while generating, standing in for a
// concurrent spender racing the batch between the balance check and the
// per-title reservations.
type drainTitles struct {
	credits *ledger.Ledger
	titles  []string
}

func (d *drainTitles) GenerateTitles(ctx context.Context, topic string, count int) ([]string, error) {
	if _, err := d.credits.Reserve(ctx, "acc1", 1, ledger.Ref{Type: "test", ID: "drain"}); err != nil {
		return nil, err
	}
	return d.titles, nil
}

// The balance check passes on day-quota but credits can still run out
// title by title; the batch truncates and commits what it made.
func TestRunCampaignTruncatesWhenCreditsRunOut(t *testing.T) {
	f := setup(t, 2)
	c := f.campaign(t, 2, nil, nil)
	now := time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)

	s := New(f.campaigns, f.jobs, f.credits, &drainTitles{credits: f.credits, titles: []string{"T1", "T2"}}, f.queue)
	s.now = func() time.Time { return now }

	if err := s.RunCampaign(context.Background(), c); err != nil {
		t.Fatalf("RunCampaign: %v", err)
	}

	jobs, _ := f.jobs.List("acc1", 50, 0)
	if len(jobs) != 1 {
		t.Fatalf("created %d jobs, want 1", len(jobs))
	}
	if len(f.queue.published) != 1 {
		t.Errorf("published %d messages, want 1", len(f.queue.published))
	}
	fetched, _ := f.campaigns.GetByID(c.ID)
	if fetched.ArticlesGenerated != 1 || fetched.CreditsUsed != 1 {
		t.Errorf("commit state: generated=%d credits=%d", fetched.ArticlesGenerated, fetched.CreditsUsed)
	}
	balance, _ := f.credits.Balance(context.Background(), "acc1")
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
}

func TestRunCampaignOncePerDay(t *testing.T) {
	f := setup(t, 10)
	c := f.campaign(t, 2, nil, nil)
	now := time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)
	gen := &fakeTitles{titles: []string{"T1", "T2"}}
	s := f.scheduler(t, gen, now)

	if err := s.RunCampaign(context.Background(), c); err != nil {
		t.Fatalf("first run: %v", err)
	}
	c, _ = f.campaigns.GetByID(c.ID)
	if err := s.RunCampaign(context.Background(), c); err != nil {
		t.Fatalf("second run: %v", err)
	}

	jobs, _ := f.jobs.List("acc1", 50, 0)
	if len(jobs) != 2 {
		t.Errorf("second same-day run must be a no-op, got %d jobs", len(jobs))
	}

	// Next day runs again with a fresh crop of titles.
	gen.titles = []string{"T3", "T4"}
	s.now = func() time.Time { return now.Add(24 * time.Hour) }
	c, _ = f.campaigns.GetByID(c.ID)
	if err := s.RunCampaign(context.Background(), c); err != nil {
		t.Fatalf("next-day run: %v", err)
	}
	jobs, _ = f.jobs.List("acc1", 50, 0)
	if len(jobs) != 4 {
		t.Errorf("next-day run should add 2 jobs, got %d total", len(jobs))
	}
}

func TestRunCampaignCompletesAtCap(t *testing.T) {
	f := setup(t, 10)
	total := 3
	c := f.campaign(t, 2, nil, &total)
	now := time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)
	s := f.scheduler(t, &fakeTitles{titles: []string{"T1", "T2", "T3", "T4"}}, now)

	if err := s.RunCampaign(context.Background(), c); err != nil {
		t.Fatalf("day 1: %v", err)
	}
	s.now = func() time.Time { return now.Add(24 * time.Hour) }
	c, _ = f.campaigns.GetByID(c.ID)
	if err := s.RunCampaign(context.Background(), c); err != nil {
		t.Fatalf("day 2: %v", err)
	}

	// Day 2 only had one article left under the cap.
	jobs, _ := f.jobs.List("acc1", 50, 0)
	if len(jobs) != 3 {
		t.Fatalf("created %d jobs, want 3 (cap)", len(jobs))
	}

	s.now = func() time.Time { return now.Add(48 * time.Hour) }
	c, _ = f.campaigns.GetByID(c.ID)
	if err := s.RunCampaign(context.Background(), c); err != nil {
		t.Fatalf("day 3: %v", err)
	}
	fetched, _ := f.campaigns.GetByID(c.ID)
	if fetched.Status != models.CampaignCompleted {
		t.Errorf("status = %q, want completed", fetched.Status)
	}
}
