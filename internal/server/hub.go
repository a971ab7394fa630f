package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/session"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/transcribe"
)

// Hub fans events out to websocket subscribers. A subscriber registered for
// a session id only receives that session's events.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]string
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]string)}
}

// Subscribe registers a client. An empty sessionID receives every event.
func (h *Hub) Subscribe(sessionID string) chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = sessionID
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

// broadcast delivers payload without blocking; slow clients miss events.
func (h *Hub) broadcast(sessionID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch, filter := range h.clients {
		if filter != "" && filter != sessionID {
			continue
		}
		select {
		case ch <- payload:
		default:
		}
	}
}

func (h *Hub) BroadcastRecordingStarted(sessionID string, st session.Status) {
	h.broadcastEvent(sessionID, RecordingStartedEvent{
		Event:       newEvent("recording_started", sessionID, st.StartedAt),
		Source:      st.Source,
		Mode:        st.Mode,
		RecordingID: st.RecordingID,
	})
}

func (h *Hub) BroadcastRecordingStopped(sessionID, transcript, reason string) {
	h.broadcastEvent(sessionID, RecordingStoppedEvent{
		Event:      newEvent("recording_stopped", sessionID, time.Now().UTC()),
		Transcript: transcript,
		Reason:     reason,
	})
}

func (h *Hub) BroadcastFragment(sessionID string, f transcribe.Fragment) {
	h.broadcastEvent(sessionID, FragmentEvent{
		Event:    newEvent("fragment", sessionID, f.CapturedAt),
		Source:   f.Source,
		Text:     f.Text,
		Start:    f.Start.Seconds(),
		Duration: f.Duration.Seconds(),
	})
}

func (h *Hub) BroadcastCoachingReply(sessionID, reply string, mode session.Mode) {
	h.broadcastEvent(sessionID, CoachingReplyEvent{
		Event: newEvent("coaching_reply", sessionID, time.Now().UTC()),
		Reply: reply,
		Mode:  mode,
	})
}

func (h *Hub) BroadcastAutoFlushed(sessionID string, fragments int) {
	h.broadcastEvent(sessionID, AutoFlushedEvent{
		Event:     newEvent("auto_flushed", sessionID, time.Now().UTC()),
		Fragments: fragments,
	})
}

func (h *Hub) BroadcastPipelineError(sessionID, kind, msg string) {
	h.broadcastEvent(sessionID, PipelineErrorEvent{
		Event:   newEvent("pipeline_error", sessionID, time.Now().UTC()),
		Kind:    kind,
		Message: msg,
	})
}

func (h *Hub) broadcastEvent(sessionID string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("event marshal", "err", err)
		return
	}
	h.broadcast(sessionID, payload)
}
