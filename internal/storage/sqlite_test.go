package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestIndexesExist verifies the migration creates the expected indexes.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_conversations_user", "idx_jobs_pending"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestQueryEngineRoundTrip(t *testing.T) {
	s := openTestStore(t)

	want := QueryEngine{
		ID:             "qe-001",
		Name:           "docs-engine",
		Backend:        "matching",
		EmbeddingModel: "embedding-001",
		Owner:          "alice@example.com",
		Public:         true,
		AccessGroups:   `["ml-team"]`,
	}
	if err := s.CreateQueryEngine(want); err != nil {
		t.Fatalf("CreateQueryEngine: %v", err)
	}

	got, err := s.GetQueryEngine("qe-001")
	if err != nil {
		t.Fatalf("GetQueryEngine: %v", err)
	}
	if got.Name != want.Name || got.Backend != want.Backend || got.EmbeddingModel != want.EmbeddingModel {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got.IndexBase != 0 {
		t.Errorf("IndexBase = %d, want 0 on fresh engine", got.IndexBase)
	}
	if got.Deployed() {
		t.Error("fresh engine reports Deployed")
	}
	if !got.Public || got.AccessGroups != `["ml-team"]` {
		t.Errorf("visibility fields lost: public=%v groups=%q", got.Public, got.AccessGroups)
	}

	byName, err := s.GetQueryEngineByName("docs-engine")
	if err != nil {
		t.Fatalf("GetQueryEngineByName: %v", err)
	}
	if byName.ID != "qe-001" {
		t.Errorf("by-name lookup returned %q", byName.ID)
	}
}

func TestGetQueryEngine_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetQueryEngine("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSetDeployment_Immutable(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateQueryEngine(QueryEngine{ID: "qe-d", Name: "d", Backend: "matching", EmbeddingModel: "e"}); err != nil {
		t.Fatalf("CreateQueryEngine: %v", err)
	}

	if err := s.SetDeployment("qe-d", "idx-1", "ep-1", "deployed-d"); err != nil {
		t.Fatalf("SetDeployment: %v", err)
	}
	got, err := s.GetQueryEngine("qe-d")
	if err != nil {
		t.Fatalf("GetQueryEngine: %v", err)
	}
	if !got.Deployed() || got.IndexID != "idx-1" || got.Endpoint != "ep-1" || got.DeployedIndexName != "deployed-d" {
		t.Errorf("deployment fields = %+v", got)
	}

	// A second deploy must not overwrite the identifiers.
	if err := s.SetDeployment("qe-d", "idx-2", "ep-2", "other"); err == nil {
		t.Fatal("second SetDeployment succeeded, want error")
	}
	got, _ = s.GetQueryEngine("qe-d")
	if got.IndexID != "idx-1" {
		t.Errorf("IndexID overwritten to %q", got.IndexID)
	}
}

func TestAdvanceIndexBase_Monotonic(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateQueryEngine(QueryEngine{ID: "qe-b", Name: "b", Backend: "sqlvec", EmbeddingModel: "e"}); err != nil {
		t.Fatalf("CreateQueryEngine: %v", err)
	}

	if err := s.AdvanceIndexBase("qe-b", 1000); err != nil {
		t.Fatalf("AdvanceIndexBase(1000): %v", err)
	}
	if err := s.AdvanceIndexBase("qe-b", 2500); err != nil {
		t.Fatalf("AdvanceIndexBase(2500): %v", err)
	}

	// Going backwards is rejected.
	if err := s.AdvanceIndexBase("qe-b", 1500); err == nil {
		t.Fatal("backwards AdvanceIndexBase succeeded, want error")
	}

	got, err := s.GetQueryEngine("qe-b")
	if err != nil {
		t.Fatalf("GetQueryEngine: %v", err)
	}
	if got.IndexBase != 2500 {
		t.Errorf("IndexBase = %d, want 2500", got.IndexBase)
	}
}

func TestDeleteQueryEngine_RemovesVectors(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateQueryEngine(QueryEngine{ID: "qe-del", Name: "del", Backend: "sqlvec", EmbeddingModel: "e"}); err != nil {
		t.Fatalf("CreateQueryEngine: %v", err)
	}
	_, err := s.db.Exec(`INSERT INTO engine_vectors (engine_id, chunk_id, document, text_chunk, embedding, created_at)
		VALUES ('qe-del', 0, 'doc', 'hello', X'00000000', '2026-01-01T00:00:00Z')`)
	if err != nil {
		t.Fatalf("INSERT vector: %v", err)
	}

	if err := s.DeleteQueryEngine("qe-del"); err != nil {
		t.Fatalf("DeleteQueryEngine: %v", err)
	}

	if _, err := s.GetQueryEngine("qe-del"); !errors.Is(err, ErrNotFound) {
		t.Errorf("engine still present after delete: %v", err)
	}
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM engine_vectors WHERE engine_id = 'qe-del'`).Scan(&count); err != nil {
		t.Fatalf("counting vectors: %v", err)
	}
	if count != 0 {
		t.Errorf("%d vectors left behind", count)
	}
}

func TestConversationRoundTrip(t *testing.T) {
	s := openTestStore(t)

	c := Conversation{ID: "c1", UserEmail: "bob@example.com", Title: "first chat"}
	if err := s.CreateConversation(c); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	got, err := s.GetConversation("c1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.History != "[]" {
		t.Errorf("History = %q, want empty array default", got.History)
	}

	history := `[{"HumanInput":"hi"},{"AIOutput":"hello"}]`
	if err := s.UpdateHistory("c1", history); err != nil {
		t.Fatalf("UpdateHistory: %v", err)
	}
	got, err = s.GetConversation("c1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.History != history {
		t.Errorf("History = %q, want %q", got.History, history)
	}
}

// TestUpdateHistory_LastWriterWins documents the storage contract: the last
// full replacement of the history JSON is what persists.
func TestUpdateHistory_LastWriterWins(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateConversation(Conversation{ID: "c2", UserEmail: "u@e"}); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if err := s.UpdateHistory("c2", `[{"HumanInput":"a"}]`); err != nil {
		t.Fatalf("first UpdateHistory: %v", err)
	}
	if err := s.UpdateHistory("c2", `[{"HumanInput":"b"}]`); err != nil {
		t.Fatalf("second UpdateHistory: %v", err)
	}

	got, err := s.GetConversation("c2")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.History != `[{"HumanInput":"b"}]` {
		t.Errorf("History = %q, want last write", got.History)
	}
}

func TestUpdateHistory_NotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpdateHistory("missing", "[]"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListConversations(t *testing.T) {
	s := openTestStore(t)

	for j := 0; j < 3; j++ {
		c := Conversation{ID: fmt.Sprintf("c-%02d", j), UserEmail: "alice@example.com"}
		if err := s.CreateConversation(c); err != nil {
			t.Fatalf("CreateConversation %d: %v", j, err)
		}
	}
	if err := s.CreateConversation(Conversation{ID: "c-other", UserEmail: "bob@example.com"}); err != nil {
		t.Fatalf("CreateConversation other: %v", err)
	}

	got, err := s.ListConversations("alice@example.com", 10)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d conversations, want 3", len(got))
	}
	for _, c := range got {
		if c.UserEmail != "alice@example.com" {
			t.Errorf("conversation %s belongs to %s", c.ID, c.UserEmail)
		}
	}
}

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)

	job := Job{
		ID:          "j-claim-1",
		Type:        "index_build",
		PayloadJSON: `{"engine":"qe1"}`,
	}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"index_build"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j-claim-1" {
		t.Errorf("ID = %q, want %q", got.ID, "j-claim-1")
	}
	if got.PayloadJSON != `{"engine":"qe1"}` {
		t.Errorf("PayloadJSON = %q", got.PayloadJSON)
	}
	if got.Status != "running" {
		t.Errorf("Status = %q, want %q", got.Status, "running")
	}
	if got.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", got.MaxAttempts)
	}
}

func TestClaimNextJob_Empty(t *testing.T) {
	s := openTestStore(t)

	got, err := s.ClaimNextJob([]string{"index_build"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestClaimNextJob_RespectRunAfter(t *testing.T) {
	s := openTestStore(t)

	job := Job{
		ID:          "j-future",
		Type:        "index_build",
		PayloadJSON: `{}`,
		RunAfter:    time.Now().UTC().Add(1 * time.Hour),
	}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"index_build"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for future run_after, got %+v", got)
	}
}

func TestClaimNextJob_SkipsRunning(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-first", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob first: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob first: %v", err)
	}

	if err := s.EnqueueJob(Job{ID: "j-second", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob second: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"x"})
	if err != nil {
		t.Fatalf("ClaimNextJob second: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j-second" {
		t.Errorf("ID = %q, want %q", got.ID, "j-second")
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-complete", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.CompleteJob("j-complete"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	var status string
	if err := s.db.QueryRow(`SELECT status FROM jobs WHERE id = 'j-complete'`).Scan(&status); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if status != "completed" {
		t.Errorf("status = %q, want %q", status, "completed")
	}
}

func TestFailJob_IncrementsAttempts(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-fail-inc", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.FailJob("j-fail-inc", "something broke"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var status, lastError string
	var attempts int
	if err := s.db.QueryRow(`SELECT status, attempts, last_error FROM jobs WHERE id = 'j-fail-inc'`).Scan(&status, &attempts, &lastError); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if status != "pending" {
		t.Errorf("status = %q, want %q", status, "pending")
	}
	if lastError != "something broke" {
		t.Errorf("last_error = %q, want %q", lastError, "something broke")
	}
}

func TestFailJob_MaxAttemptsReached(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-fail-max", Type: "x", PayloadJSON: `{}`, MaxAttempts: 1}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.FailJob("j-fail-max", "fatal"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var status string
	if err := s.db.QueryRow(`SELECT status FROM jobs WHERE id = 'j-fail-max'`).Scan(&status); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if status != "failed" {
		t.Errorf("status = %q, want %q", status, "failed")
	}
}

func TestFailJob_SetsBackoff(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-backoff", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	before := time.Now().UTC()
	if err := s.FailJob("j-backoff", "retry"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var runAfterStr string
	if err := s.db.QueryRow(`SELECT run_after FROM jobs WHERE id = 'j-backoff'`).Scan(&runAfterStr); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	runAfter, err := time.Parse(time.RFC3339, runAfterStr)
	if err != nil {
		t.Fatalf("parsing run_after: %v", err)
	}
	if !runAfter.After(before) {
		t.Errorf("run_after %v should be after %v", runAfter, before)
	}
}
