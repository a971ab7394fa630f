package server

import (
	"time"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/audio"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/session"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id,omitempty"`
}

type RecordingStartedEvent struct {
	Event
	Source      audio.Source `json:"source"`
	Mode        session.Mode `json:"mode"`
	RecordingID string       `json:"recording_id"`
}

type RecordingStoppedEvent struct {
	Event
	Transcript string `json:"transcript"`
	Reason     string `json:"reason"`
}

type FragmentEvent struct {
	Event
	Source   audio.Source `json:"source"`
	Text     string       `json:"text"`
	Start    float64      `json:"start"`
	Duration float64      `json:"duration"`
}

type CoachingReplyEvent struct {
	Event
	Reply string       `json:"reply"`
	Mode  session.Mode `json:"mode"`
}

type AutoFlushedEvent struct {
	Event
	Fragments int `json:"fragments"`
}

type PipelineErrorEvent struct {
	Event
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType, sessionID string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		SessionID: sessionID,
	}
}
