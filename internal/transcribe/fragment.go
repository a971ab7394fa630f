package transcribe

import (
	"fmt"
	"strings"
	"time"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/audio"
)

// Fragment is the transcription of one segment.
type Fragment struct {
	Raw        string        `json:"-"`
	Text       string        `json:"text"`
	Source     audio.Source  `json:"source"`
	CapturedAt time.Time     `json:"captured_at"`
	Start      time.Duration `json:"start"`
	Duration   time.Duration `json:"duration"`
}

func (f Fragment) FormatMarkdown() string {
	ts := f.CapturedAt.Format("15:04:05")
	return fmt.Sprintf("**[%s] %s:** %s", ts, f.Source.Label(), strings.TrimSpace(f.Text))
}

// GroupBySource merges consecutive fragments from the same source into one,
// keeping the first fragment's timestamp.
func GroupBySource(fragments []Fragment) []Fragment {
	if len(fragments) == 0 {
		return nil
	}

	var groups []Fragment
	current := fragments[0]

	for _, f := range fragments[1:] {
		if f.Source == current.Source {
			current.Text = joinNonEmpty(current.Text, f.Text, " ")
			current.Raw = joinNonEmpty(current.Raw, f.Raw, "\n")
			current.Duration += f.Duration
			continue
		}
		groups = append(groups, current)
		current = f
	}

	return append(groups, current)
}

// Transcript renders fragments as plain text. When more than one source is
// present every line is prefixed with its speaker.
func Transcript(fragments []Fragment) string {
	groups := GroupBySource(fragments)
	if len(groups) == 0 {
		return ""
	}

	labelled := false
	for _, g := range groups[1:] {
		if g.Source != groups[0].Source {
			labelled = true
			break
		}
	}

	lines := make([]string, 0, len(groups))
	for _, g := range groups {
		if g.Text == "" {
			continue
		}
		if labelled {
			lines = append(lines, g.Source.Label()+": "+g.Text)
		} else {
			lines = append(lines, g.Text)
		}
	}
	return strings.Join(lines, "\n")
}

// CommonSource returns the source shared by all fragments, or audio.Both
// when they differ.
func CommonSource(fragments []Fragment) audio.Source {
	if len(fragments) == 0 {
		return ""
	}
	source := fragments[0].Source
	for _, f := range fragments[1:] {
		if f.Source != source {
			return audio.Both
		}
	}
	return source
}

func joinNonEmpty(a, b, sep string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + sep + b
	}
}
