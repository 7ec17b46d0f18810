package repositories

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"

	"inkwell/internal/platform/database"
	"inkwell/internal/platform/models"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	// A second connection to :memory: would see an empty database.
	db.SetMaxOpenConns(1)
	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func insertAccount(t *testing.T, db *sql.DB, id string, credits int) {
	t.Helper()
	now := time.Now().Unix()
	_, err := db.Exec(`
		INSERT INTO accounts (id, username, email, password_hash, credits, plan, created_at, updated_at)
		VALUES (?, ?, ?, 'x', ?, 'free', ?, ?)
	`, id, "user-"+id, id+"@example.com", credits, now, now)
	if err != nil {
		t.Fatalf("Failed to insert account: %v", err)
	}
}

func TestJobCreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	insertAccount(t, db, "acc1", 10)
	repo := NewJobRepository(db)

	scheduled := time.Now().Add(time.Hour).Unix()
	integration := "int1"
	job := &models.Job{
		AccountID:     "acc1",
		IntegrationID: &integration,
		RawQuery:      "go concurrency",
		Topic:         "Go Concurrency Patterns",
		Category:      "Tech",
		TargetLength:  1500,
		SourceCount:   5,
		ScheduledAt:   &scheduled,
	}
	if err := repo.Create(job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.ID == "" || job.Status != models.StatusQueued {
		t.Fatalf("Create did not apply defaults: id=%q status=%q", job.ID, job.Status)
	}

	fetched, err := repo.GetByID(job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched == nil {
		t.Fatal("expected job, got nil")
	}
	if fetched.Topic != job.Topic || fetched.ScheduledAt == nil || *fetched.ScheduledAt != scheduled {
		t.Errorf("roundtrip mismatch: %+v", fetched)
	}
	if fetched.IntegrationID == nil || *fetched.IntegrationID != "int1" {
		t.Errorf("integration id lost: %+v", fetched.IntegrationID)
	}

	missing, err := repo.GetByID("nope")
	if err != nil || missing != nil {
		t.Errorf("missing job should be (nil, nil), got (%v, %v)", missing, err)
	}
}

func TestJobUpdateStatusRejectsInvalidTransition(t *testing.T) {
	db := setupTestDB(t)
	insertAccount(t, db, "acc1", 10)
	repo := NewJobRepository(db)

	job := &models.Job{AccountID: "acc1", RawQuery: "q", Topic: "t"}
	if err := repo.Create(job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.UpdateStatus(job.ID, models.StatusCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("queued -> completed should be rejected, got %v", err)
	}
	if err := repo.UpdateStatus(job.ID, models.StatusResearching); err != nil {
		t.Errorf("queued -> researching should succeed, got %v", err)
	}

	fetched, _ := repo.GetByID(job.ID)
	if fetched.Status != models.StatusResearching {
		t.Errorf("status = %q, want researching", fetched.Status)
	}
}

func TestJobAdvanceStatusIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	insertAccount(t, db, "acc1", 10)
	repo := NewJobRepository(db)

	job := &models.Job{AccountID: "acc1", RawQuery: "q", Topic: "t"}
	if err := repo.Create(job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, target := range []string{models.StatusResearching, models.StatusScraping, models.StatusWriting} {
		if err := repo.AdvanceStatus(job.ID, target); err != nil {
			t.Fatalf("AdvanceStatus(%s): %v", target, err)
		}
	}

	// Re-running earlier stages after a redelivery must not move the
	// job backwards or error.
	if err := repo.AdvanceStatus(job.ID, models.StatusResearching); err != nil {
		t.Errorf("backward AdvanceStatus should be a no-op, got %v", err)
	}
	fetched, _ := repo.GetByID(job.ID)
	if fetched.Status != models.StatusWriting {
		t.Errorf("status = %q, want writing", fetched.Status)
	}
}

func TestJobFinalizeAndSources(t *testing.T) {
	db := setupTestDB(t)
	insertAccount(t, db, "acc1", 10)
	repo := NewJobRepository(db)

	job := &models.Job{AccountID: "acc1", RawQuery: "q", Topic: "t"}
	if err := repo.Create(job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	mustAdvance(t, repo, job.ID, models.StatusResearching, models.StatusScraping, models.StatusWriting)

	sources := []models.SourceContent{
		{JobID: job.ID, URL: "https://a.example", Title: "A", FullContent: "aaa", Origin: "web"},
		{JobID: job.ID, URL: "https://b.example", Title: "B", FullContent: "bbb", Origin: "web"},
	}
	if err := repo.ReplaceSources(job.ID, sources); err != nil {
		t.Fatalf("ReplaceSources: %v", err)
	}
	// Idempotent on redelivery: same call again leaves exactly two rows.
	if err := repo.ReplaceSources(job.ID, sources); err != nil {
		t.Fatalf("ReplaceSources again: %v", err)
	}
	got, err := repo.SourcesByJob(job.ID)
	if err != nil {
		t.Fatalf("SourcesByJob: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 sources, got %d", len(got))
	}

	brief := &models.Brief{JobID: job.ID, Keywords: []string{"go", "concurrency"}, Outline: `[{"h2":"Intro"}]`, Strategy: "deep dive"}
	if err := repo.SaveBrief(brief); err != nil {
		t.Fatalf("SaveBrief: %v", err)
	}
	if err := repo.SaveBrief(brief); err != nil {
		t.Fatalf("SaveBrief again: %v", err)
	}
	savedBrief, err := repo.BriefByJob(job.ID)
	if err != nil || savedBrief == nil {
		t.Fatalf("BriefByJob: %v %v", savedBrief, err)
	}
	if len(savedBrief.Keywords) != 2 {
		t.Errorf("keywords = %v", savedBrief.Keywords)
	}

	if err := repo.Finalize(job.ID, "# Article", models.StatusCompleted); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	fetched, _ := repo.GetByID(job.ID)
	if fetched.Status != models.StatusCompleted || fetched.Content != "# Article" {
		t.Errorf("finalize mismatch: status=%q content=%q", fetched.Status, fetched.Content)
	}
}

func TestJobRetryLifecycle(t *testing.T) {
	db := setupTestDB(t)
	insertAccount(t, db, "acc1", 10)
	repo := NewJobRepository(db)

	job := &models.Job{AccountID: "acc1", RawQuery: "q", Topic: "t"}
	if err := repo.Create(job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Only failed jobs retry.
	if err := repo.RequeueForRetry(job.ID, 3); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("retrying a queued job should fail, got %v", err)
	}

	if err := repo.MarkFailed(job.ID, "no sources found"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if err := repo.RequeueForRetry(job.ID, 3); err != nil {
		t.Fatalf("RequeueForRetry: %v", err)
	}

	fetched, _ := repo.GetByID(job.ID)
	if fetched.Status != models.StatusQueued || fetched.RetryCount != 1 || fetched.ErrorMessage != "" {
		t.Errorf("retry state: status=%q retries=%d err=%q", fetched.Status, fetched.RetryCount, fetched.ErrorMessage)
	}

	// Exhaust the budget.
	for i := 0; i < 2; i++ {
		if err := repo.MarkFailed(job.ID, "again"); err != nil {
			t.Fatalf("MarkFailed: %v", err)
		}
		if err := repo.RequeueForRetry(job.ID, 3); err != nil {
			t.Fatalf("RequeueForRetry %d: %v", i, err)
		}
	}
	if err := repo.MarkFailed(job.ID, "again"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if err := repo.RequeueForRetry(job.ID, 3); !errors.Is(err, ErrRetryLimit) {
		t.Errorf("fourth retry should hit the limit, got %v", err)
	}
}

func TestDuePostingFilters(t *testing.T) {
	db := setupTestDB(t)
	insertAccount(t, db, "acc1", 10)
	repo := NewJobRepository(db)

	now := time.Now().Unix()
	past := now - 3600
	future := now + 3600
	integration := "int1"

	mkJob := func(mutate func(*models.Job)) *models.Job {
		job := &models.Job{AccountID: "acc1", RawQuery: "q", Topic: "t", IntegrationID: &integration}
		if err := repo.Create(job); err != nil {
			t.Fatalf("Create: %v", err)
		}
		mustAdvance(t, repo, job.ID, models.StatusResearching, models.StatusScraping, models.StatusWriting)
		if err := repo.Finalize(job.ID, "body", models.StatusCompleted); err != nil {
			t.Fatalf("Finalize: %v", err)
		}
		if mutate != nil {
			mutate(job)
		}
		return job
	}

	due := mkJob(nil)
	duePast := mkJob(func(j *models.Job) {
		db.Exec(`UPDATE jobs SET status = 'scheduled', scheduled_at = ? WHERE id = ?`, past, j.ID)
	})
	mkJob(func(j *models.Job) { // future publish time
		db.Exec(`UPDATE jobs SET status = 'scheduled', scheduled_at = ? WHERE id = ?`, future, j.ID)
	})
	mkJob(func(j *models.Job) { // already posted
		db.Exec(`UPDATE jobs SET status = 'posted', posted_at = ? WHERE id = ?`, now, j.ID)
	})
	mkJob(func(j *models.Job) { // attempts exhausted
		db.Exec(`UPDATE jobs SET posting_attempt_count = 3 WHERE id = ?`, j.ID)
	})
	mkJob(func(j *models.Job) { // no receiver
		db.Exec(`UPDATE jobs SET integration_id = NULL WHERE id = ?`, j.ID)
	})

	got, err := repo.DuePosting(now, 3, 50)
	if err != nil {
		t.Fatalf("DuePosting: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 due jobs, got %d", len(got))
	}
	found := map[string]bool{}
	for _, j := range got {
		found[j.ID] = true
	}
	if !found[due.ID] || !found[duePast.ID] {
		t.Errorf("wrong jobs selected: %v", found)
	}
}

func TestTopicsByCampaign(t *testing.T) {
	db := setupTestDB(t)
	insertAccount(t, db, "acc1", 10)
	jobRepo := NewJobRepository(db)
	campaignRepo := NewCampaignRepository(db)

	campaign := &models.Campaign{
		AccountID: "acc1", Name: "c", Topic: "go", Category: "Tech",
		ArticlesPerDay: 2, StartDate: "2026-01-01", Status: models.CampaignActive,
		TargetLength: 1500, SourceCount: 5,
	}
	if err := campaignRepo.Create(campaign); err != nil {
		t.Fatalf("Create campaign: %v", err)
	}

	for _, topic := range []string{"Title A", "Title B"} {
		job := &models.Job{AccountID: "acc1", CampaignID: &campaign.ID, RawQuery: "go", Topic: topic}
		if err := jobRepo.Create(job); err != nil {
			t.Fatalf("Create job: %v", err)
		}
	}

	topics, err := jobRepo.TopicsByCampaign(campaign.ID)
	if err != nil {
		t.Fatalf("TopicsByCampaign: %v", err)
	}
	if len(topics) != 2 {
		t.Errorf("expected 2 topics, got %v", topics)
	}
}

func TestJobGetByIDPropagatesDBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id = ?").
		WithArgs("j1").
		WillReturnError(sql.ErrConnDone)

	repo := NewJobRepository(db)
	if _, err := repo.GetByID("j1"); !errors.Is(err, sql.ErrConnDone) {
		t.Errorf("expected ErrConnDone, got %v", err)
	}
}

func mustAdvance(t *testing.T, repo *JobRepository, id string, stages ...string) {
	t.Helper()
	for _, s := range stages {
		if err := repo.AdvanceStatus(id, s); err != nil {
			t.Fatalf("AdvanceStatus(%s): %v", s, err)
		}
	}
}
