package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/audio"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/transcribe"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func TestSQLitePragmas(t *testing.T) {
	store := newTestSQLiteStore(t)

	var mode string
	if err := store.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode failed: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected journal_mode wal, got %q", mode)
	}

	var timeout int
	if err := store.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("PRAGMA busy_timeout failed: %v", err)
	}
	if timeout < 5000 {
		t.Fatalf("expected busy_timeout >= 5000, got %d", timeout)
	}
}

func TestSQLiteRecordingLifecycle(t *testing.T) {
	store := newTestSQLiteStore(t)

	startedAt := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	rec := Recording{ID: "rec-1", SessionID: "s1", Source: audio.Both, Mode: "manual", StartedAt: startedAt}
	if err := store.CreateRecording(rec); err != nil {
		t.Fatalf("CreateRecording failed: %v", err)
	}

	frags := []transcribe.Fragment{
		{Raw: "[00:00.000 --> 00:05.000] Tell me about yourself.", Text: "Tell me about yourself.", Source: audio.Interviewer, CapturedAt: startedAt.Add(5 * time.Second), Start: 0, Duration: 5 * time.Second},
		{Text: "I build audio pipelines.", Source: audio.Interviewee, CapturedAt: startedAt.Add(10 * time.Second), Start: 5 * time.Second, Duration: 5 * time.Second},
	}
	for _, f := range frags {
		if err := store.AppendFragment(rec.ID, f); err != nil {
			t.Fatalf("AppendFragment failed: %v", err)
		}
	}

	if err := store.SaveReply(Reply{RecordingID: rec.ID, SessionID: "s1", Mode: "manual", Source: audio.Both, Prompt: "Tell me about yourself.", Reply: "Lead with impact.", CreatedAt: startedAt.Add(12 * time.Second)}); err != nil {
		t.Fatalf("SaveReply failed: %v", err)
	}

	if err := store.EndRecording(rec.ID, startedAt.Add(30*time.Second), "Interviewer: Tell me about yourself.", RecordingEnded); err != nil {
		t.Fatalf("EndRecording failed: %v", err)
	}

	got, err := store.GetRecording(rec.ID)
	if err != nil {
		t.Fatalf("GetRecording failed: %v", err)
	}
	if got.Status != RecordingEnded {
		t.Fatalf("expected status %q, got %q", RecordingEnded, got.Status)
	}
	if got.Source != audio.Both || got.SessionID != "s1" {
		t.Fatalf("unexpected recording %#v", got)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(startedAt.Add(30*time.Second)) {
		t.Fatalf("unexpected ended_at %v", got.EndedAt)
	}
	if got.Transcript == "" {
		t.Fatal("expected transcript to be stored")
	}

	stored, err := store.GetFragments(rec.ID)
	if err != nil {
		t.Fatalf("GetFragments failed: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(stored))
	}
	if stored[0].Text != frags[0].Text || stored[0].Raw != frags[0].Raw || stored[0].Source != audio.Interviewer {
		t.Fatalf("unexpected first fragment %#v", stored[0])
	}
	if stored[1].Start != 5*time.Second || stored[1].Duration != 5*time.Second {
		t.Fatalf("unexpected offsets %#v", stored[1])
	}
	if !stored[1].CapturedAt.Equal(frags[1].CapturedAt) {
		t.Fatalf("expected captured_at %v, got %v", frags[1].CapturedAt, stored[1].CapturedAt)
	}

	replies, err := store.GetReplies(rec.ID)
	if err != nil {
		t.Fatalf("GetReplies failed: %v", err)
	}
	if len(replies) != 1 || replies[0].Reply != "Lead with impact." {
		t.Fatalf("unexpected replies %#v", replies)
	}

	byDate, err := store.GetRecordingsByDate("2026-02-26")
	if err != nil {
		t.Fatalf("GetRecordingsByDate failed: %v", err)
	}
	if len(byDate) != 1 {
		t.Fatalf("expected 1 recording for date, got %d", len(byDate))
	}

	dates, err := store.GetDates()
	if err != nil {
		t.Fatalf("GetDates failed: %v", err)
	}
	if len(dates) != 1 || dates[0] != "2026-02-26" {
		t.Fatalf("expected dates [2026-02-26], got %#v", dates)
	}
}

func TestSQLiteEndUnknownRecording(t *testing.T) {
	store := newTestSQLiteStore(t)

	err := store.EndRecording("missing", time.Now(), "", RecordingEnded)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestSQLiteGetUnknownRecording(t *testing.T) {
	store := newTestSQLiteStore(t)

	if _, err := store.GetRecording("missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestSQLiteCreateRecordingRequiresID(t *testing.T) {
	store := newTestSQLiteStore(t)

	if err := store.CreateRecording(Recording{SessionID: "s1"}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestSQLiteConcurrentAccess(t *testing.T) {
	store := newTestSQLiteStore(t)

	startedAt := time.Now().UTC()
	if err := store.CreateRecording(Recording{ID: "rec-1", SessionID: "s1", Source: audio.Interviewee, Mode: "auto", StartedAt: startedAt}); err != nil {
		t.Fatalf("CreateRecording failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.AppendFragment("rec-1", transcribe.Fragment{
				Text:       fmt.Sprintf("fragment-%d", i),
				Source:     audio.Interviewee,
				CapturedAt: startedAt.Add(time.Duration(i) * time.Second),
				Duration:   5 * time.Second,
			})
			_, _ = store.GetRecording("rec-1")
		}()
	}
	wg.Wait()

	fragments, err := store.GetFragments("rec-1")
	if err != nil {
		t.Fatalf("GetFragments failed: %v", err)
	}
	if len(fragments) != 20 {
		t.Fatalf("expected 20 fragments, got %d", len(fragments))
	}
}
