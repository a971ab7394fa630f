package session

import (
	"fmt"
	"strings"
	"sync"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/transcribe"
)

type entry struct {
	fragments  []transcribe.Fragment
	dispatched int
}

// Accumulator collects the fragments of each session in capture order until
// they are drained. Drain is the only operation that removes fragments.
// Only Restore may place fragments ahead of ones already accumulated.
type Accumulator struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewAccumulator() *Accumulator {
	return &Accumulator{entries: make(map[string]*entry)}
}

// Append adds a fragment. Fragments with no text are ignored; fragments older
// than the newest accumulated one are rejected.
func (a *Accumulator) Append(sessionID string, f transcribe.Fragment) error {
	if strings.TrimSpace(f.Text) == "" {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[sessionID]
	if !ok {
		e = &entry{}
		a.entries[sessionID] = e
	}
	if n := len(e.fragments); n > 0 && f.CapturedAt.Before(e.fragments[n-1].CapturedAt) {
		return fmt.Errorf("session %s at %s: %w", sessionID, f.CapturedAt.Format("15:04:05.000"), ErrOutOfOrder)
	}

	e.fragments = append(e.fragments, f)
	return nil
}

// Drain returns every accumulated fragment and clears the session's entry.
func (a *Accumulator) Drain(sessionID string) []transcribe.Fragment {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[sessionID]
	if !ok {
		return nil
	}
	delete(a.entries, sessionID)
	return e.fragments
}

// Restore puts fragments back in front of the session's entry, e.g. after a
// drained batch could not be forwarded. Restored fragments count as
// undispatched.
func (a *Accumulator) Restore(sessionID string, fragments []transcribe.Fragment) {
	if len(fragments) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[sessionID]
	if !ok {
		e = &entry{}
		a.entries[sessionID] = e
	}
	e.fragments = append(append([]transcribe.Fragment(nil), fragments...), e.fragments...)
	e.dispatched = 0
}

// PeekPending reports whether the session has fragments that were neither
// drained nor marked dispatched.
func (a *Accumulator) PeekPending(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[sessionID]
	return ok && len(e.fragments) > e.dispatched
}

// Fragments returns a copy of everything accumulated for the session.
func (a *Accumulator) Fragments(sessionID string) []transcribe.Fragment {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[sessionID]
	if !ok || len(e.fragments) == 0 {
		return nil
	}
	return append([]transcribe.Fragment(nil), e.fragments...)
}

// Undispatched returns a copy of the fragments after the dispatch cursor.
func (a *Accumulator) Undispatched(sessionID string) []transcribe.Fragment {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[sessionID]
	if !ok || len(e.fragments) == e.dispatched {
		return nil
	}
	return append([]transcribe.Fragment(nil), e.fragments[e.dispatched:]...)
}

// MarkDispatched advances the dispatch cursor by n fragments.
func (a *Accumulator) MarkDispatched(sessionID string, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[sessionID]
	if !ok || n <= 0 {
		return
	}
	e.dispatched = min(e.dispatched+n, len(e.fragments))
}

func (a *Accumulator) Len(sessionID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e, ok := a.entries[sessionID]; ok {
		return len(e.fragments)
	}
	return 0
}

// Sessions lists the ids that have undispatched fragments.
func (a *Accumulator) Sessions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, 0, len(a.entries))
	for id, e := range a.entries {
		if len(e.fragments) > e.dispatched {
			ids = append(ids, id)
		}
	}
	return ids
}

// Text joins fragments into a single transcript.
func Text(fragments []transcribe.Fragment) string {
	return transcribe.Transcript(fragments)
}
