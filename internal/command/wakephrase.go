package command

import "strings"

const wakePunct = " ,.!?;:-\"'`~"

// WakeDetector recognizes a leading wake phrase ("music ...") in a
// transcript and strips it.
type WakeDetector struct {
	Phrases []string
	// WindowWords > 0 lets the phrase start anywhere within the first
	// WindowWords words instead of requiring a strict prefix.
	WindowWords int
}

func NewWakeDetector(phrases []string, windowWords int) *WakeDetector {
	var ps []string
	for _, p := range phrases {
		if p = normalizeSpace(strings.ToLower(p)); p != "" {
			ps = append(ps, p)
		}
	}
	return &WakeDetector{Phrases: ps, WindowWords: windowWords}
}

// Enabled reports whether any phrase is configured.
func (w *WakeDetector) Enabled() bool { return w != nil && len(w.Phrases) > 0 }

// Detect returns (matched, stripped), where stripped is the text following
// the wake phrase.
func (w *WakeDetector) Detect(text string) (bool, string) {
	if !w.Enabled() || text == "" {
		return false, ""
	}
	words := strings.Fields(stripPunct(strings.ToLower(text)))

	limit := 1
	if w.WindowWords > 0 {
		limit = w.WindowWords
	}
	for _, wp := range w.Phrases {
		wpWords := strings.Fields(wp)
		for i := 0; i < limit && i+len(wpWords) <= len(words); i++ {
			if equalWords(words[i:i+len(wpWords)], wpWords) {
				return true, strings.Join(words[i+len(wpWords):], " ")
			}
		}
	}
	return false, ""
}

// stripPunct trims transcription punctuation ("Skip.", "play it?") from
// the edges of every word and collapses whitespace.
func stripPunct(text string) string {
	words := strings.Fields(text)
	for i := range words {
		words[i] = strings.Trim(words[i], wakePunct)
	}
	return strings.Join(dropEmpty(words), " ")
}

func equalWords(a, b []string) bool {
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func dropEmpty(words []string) []string {
	out := words[:0]
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
