package command

import (
	"regexp"
	"strings"
)

// leading command word plus optional free-text remainder
var grammarRe = regexp.MustCompile(`^(\p{L}+)(?:\s+(.+))?$`)

// Normalizer maps transcripts and chat text to canonical commands.
type Normalizer struct {
	prefix   string
	genres   *GenreTable
	wake     *WakeDetector
	triggers []Trigger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithPrefix sets the text-command prefix (default "!").
func WithPrefix(prefix string) Option { return func(n *Normalizer) { n.prefix = prefix } }

// WithGenres replaces the default genre table.
func WithGenres(t *GenreTable) Option { return func(n *Normalizer) { n.genres = t } }

// WithWakeDetector requires transcripts to start with a wake phrase.
func WithWakeDetector(w *WakeDetector) Option { return func(n *Normalizer) { n.wake = w } }

// WithTriggers installs trigger phrases evaluated by Triggers.
func WithTriggers(ts ...Trigger) Option {
	return func(n *Normalizer) { n.triggers = append(n.triggers, ts...) }
}

func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{prefix: "!"}
	for _, o := range opts {
		o(n)
	}
	if n.genres == nil {
		n.genres = NewGenreTable(DefaultGenres)
	}
	return n
}

func (n *Normalizer) Prefix() string      { return n.prefix }
func (n *Normalizer) Genres() *GenreTable { return n.genres }

// Normalize applies the spoken grammar to a transcript. ok is false when
// no command is present (blank input, or a configured wake phrase is
// missing); an unmatched command word yields Kind Unrecognized.
func (n *Normalizer) Normalize(raw string) (cmd Command, ok bool) {
	text := stripPunct(strings.ToLower(raw))
	if text == "" {
		return Command{}, false
	}
	if n.wake.Enabled() {
		matched, stripped := n.wake.Detect(text)
		if !matched {
			return Command{}, false
		}
		if text = stripped; text == "" {
			return Command{}, false
		}
	}
	m := grammarRe.FindStringSubmatch(text)
	if m == nil {
		return Command{Kind: Unrecognized, Arg: strings.TrimSpace(raw)}, true
	}
	word, arg := m[1], strings.TrimSpace(m[2])

	switch word {
	case "help":
		return Command{Kind: Help}, true
	case "skip", "next":
		return Command{Kind: Skip}, true
	case "shuffle":
		return Command{Kind: Shuffle}, true
	case "genres":
		return Command{Kind: Genres}, true
	case "pause":
		return Command{Kind: Pause}, true
	case "resume", "continue":
		return Command{Kind: Resume}, true
	case "clear":
		if arg == "" || arg == "list" || arg == "queue" {
			return Command{Kind: Clear}, true
		}
	case "list", "queue":
		return Command{Kind: List}, true
	case "hello":
		return Command{Kind: Hello}, true
	case "favorites":
		return Command{Kind: Favorites}, true
	case "set":
		if arg == "favorite" || arg == "favorites" {
			return Command{Kind: Favorite}, true
		}
	case "play", "player":
		return n.resolvePlay(arg), true
	}
	return Command{Kind: Unrecognized, Arg: strings.TrimSpace(raw)}, true
}

// resolvePlay rewrites the argument of a play request into its variant.
func (n *Normalizer) resolvePlay(arg string) Command {
	switch strings.ToLower(arg) {
	case "random":
		return Command{Kind: PlayRandom}
	case "favorite", "favorites":
		return Command{Kind: PlayFavorites}
	}
	if g, ok := n.genres.Match(arg); ok {
		return Command{Kind: Genre, Arg: g}
	}
	return Command{Kind: Play, Arg: arg}
}

// ParseText parses a prefixed chat command ("!play some song"). Only the
// first line is considered. ok is false for anything that is not one of
// our commands.
func (n *Normalizer) ParseText(content string) (cmd Command, ok bool) {
	line, _, _ := strings.Cut(strings.TrimSpace(content), "\n")
	line = strings.TrimSpace(line)
	if n.prefix == "" || !strings.HasPrefix(line, n.prefix) {
		return Command{}, false
	}
	word, arg, _ := strings.Cut(strings.TrimPrefix(line, n.prefix), " ")
	word = strings.ToLower(word)
	arg = strings.TrimSpace(arg)

	switch word {
	case "play":
		return n.resolvePlay(arg), true
	case "genre":
		if arg == "" {
			return Command{Kind: Genres}, true
		}
		if g, ok := n.genres.Match(arg); ok {
			return Command{Kind: Genre, Arg: g}, true
		}
		return Command{Kind: Genre, Arg: strings.ToLower(arg)}, true
	case "unfavorite":
		return Command{Kind: Unfavorite, Arg: arg}, true
	case "queue":
		return Command{Kind: List}, true
	}
	if k, ok := ParseKind(word); ok && k != Unfavorite && k != PlayRandom && k != PlayFavorites {
		return Command{Kind: k}, true
	}
	return Command{}, false
}

// Triggers returns every trigger phrase that fires for text.
func (n *Normalizer) Triggers(text string) []Trigger {
	lower := strings.ToLower(text)
	var fired []Trigger
	for _, t := range n.triggers {
		if t.Pattern.MatchString(lower) {
			fired = append(fired, t)
		}
	}
	return fired
}
