package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/transcribe"
)

// Journal appends fragments and coaching replies to one markdown file per day.
type Journal struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

func NewJournal(dir string) *Journal {
	return &Journal{dir: dir, now: time.Now}
}

func (j *Journal) AppendFragment(f transcribe.Fragment) error {
	return j.appendLine(f.CapturedAt, f.FormatMarkdown())
}

func (j *Journal) AppendReply(at time.Time, reply string) error {
	return j.appendLine(at, fmt.Sprintf("> **[%s] Coach:** %s", at.Format("15:04:05"), reply))
}

func (j *Journal) appendLine(at time.Time, line string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", j.dir, err)
	}

	if at.IsZero() {
		at = j.now()
	}
	path := j.pathFor(at)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// CurrentPath is today's journal file. It may not exist yet.
func (j *Journal) CurrentPath() string {
	return j.pathFor(j.now())
}

func (j *Journal) pathFor(t time.Time) string {
	return filepath.Join(j.dir, t.Local().Format("2006-01-02")+".md")
}
