package transcribe

import (
	"regexp"
	"strings"
)

const timecode = `(?:\d{1,2}:)?\d{1,2}:\d{2}[.,]\d{1,3}`

var (
	ansiCSI = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	ansiOSC = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)
	ansiESC = regexp.MustCompile(`\x1b[@-Z\\-_]?`)

	cueIndex     = regexp.MustCompile(`(?m)^[ \t]*\d+[ \t]*\r?\n([ \t]*\[?[ \t]*` + timecode + `[ \t]*-->)`)
	cueRange     = regexp.MustCompile(`\[?[ \t]*` + timecode + `[ \t]*-->[ \t]*` + timecode + `[ \t]*\]?`)
	bareTimecode = regexp.MustCompile(`\[?\b` + timecode + `\b\]?`)

	subtitleHeader = regexp.MustCompile(`(?m)^[ \t]*(?:WEBVTT\b|Kind:|Language:|NOTE\b).*$`)
	speakerLabel   = regexp.MustCompile(`(?i)\[[ \t]*speaker[ _-]?[^\]\n]*\][ \t]*:?`)
	confidence     = regexp.MustCompile(`(?i)\[[ \t]*(?:conf(?:idence)?[ \t]*[:=]?[ \t]*)?(?:0|1)?\.\d+[ \t]*%?[ \t]*\]|\[[ \t]*conf(?:idence)?[ \t]*[:=]?[ \t]*\d{1,3}(?:\.\d+)?[ \t]*%?[ \t]*\]`)
	nonSpeech      = regexp.MustCompile(`(?i)\[[ \t]*(?:BLANK_AUDIO|MUSIC|NOISE|SILENCE|INAUDIBLE|APPLAUSE|LAUGHTER|NO SPEECH)[ \t]*\]`)
)

// Sanitize removes terminal escapes, subtitle timing and annotations from raw
// recognizer output and normalises whitespace. Sanitize(Sanitize(s)) ==
// Sanitize(s) for every s.
func Sanitize(raw string) string {
	out := raw
	for range 16 {
		next := sanitizeOnce(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

func sanitizeOnce(s string) string {
	s = ansiOSC.ReplaceAllString(s, "")
	s = ansiCSI.ReplaceAllString(s, "")
	s = ansiESC.ReplaceAllString(s, "")

	s = cueIndex.ReplaceAllString(s, "$1")
	s = cueRange.ReplaceAllString(s, " ")
	s = bareTimecode.ReplaceAllString(s, " ")
	s = subtitleHeader.ReplaceAllString(s, "")

	s = speakerLabel.ReplaceAllString(s, " ")
	s = confidence.ReplaceAllString(s, " ")
	s = nonSpeech.ReplaceAllString(s, " ")

	return collapseWhitespace(s)
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
