package command

import (
	"math/rand/v2"
	"strings"
)

// GenreSynonyms lists the spoken forms accepted for one canonical genre.
type GenreSynonyms struct {
	Name     string
	Synonyms []string
}

// DefaultGenres is the built-in table. Every spoken synonym belongs to
// exactly one genre.
var DefaultGenres = []GenreSynonyms{
	{Name: "hip-hop", Synonyms: []string{"hip-hop", "hip hop", "hiphop", "rap"}},
	{Name: "rock", Synonyms: []string{"rock"}},
	{Name: "dance", Synonyms: []string{"dance"}},
	{Name: "trance", Synonyms: []string{"trance"}},
	{Name: "groove", Synonyms: []string{"groove"}},
	{Name: "classical", Synonyms: []string{"classical"}},
	{Name: "techno", Synonyms: []string{"techno"}},
}

// trailing words that don't change which genre was asked for
var genreFiller = map[string]struct{}{
	"mix": {}, "music": {}, "songs": {}, "playlist": {}, "radio": {}, "tracks": {},
}

// GenreTable resolves spoken synonyms to canonical genre names.
type GenreTable struct {
	names    []string
	synonyms map[string]string
}

// NewGenreTable indexes entries. Later duplicates of a synonym are ignored
// so the first genre to claim a synonym keeps it.
func NewGenreTable(entries []GenreSynonyms) *GenreTable {
	t := &GenreTable{synonyms: make(map[string]string)}
	for _, e := range entries {
		name := strings.ToLower(strings.TrimSpace(e.Name))
		if name == "" {
			continue
		}
		t.names = append(t.names, name)
		for _, s := range append([]string{name}, e.Synonyms...) {
			s = normalizeSpace(strings.ToLower(s))
			if _, taken := t.synonyms[s]; !taken && s != "" {
				t.synonyms[s] = name
			}
		}
	}
	return t
}

// Match returns the canonical genre for arg. Filler words at the end
// ("trance mix", "rock music") are ignored.
func (t *GenreTable) Match(arg string) (string, bool) {
	words := strings.Fields(stripPunct(strings.ToLower(arg)))
	for len(words) > 1 {
		if _, ok := genreFiller[words[len(words)-1]]; !ok {
			break
		}
		words = words[:len(words)-1]
	}
	name, ok := t.synonyms[strings.Join(words, " ")]
	return name, ok
}

// Names returns canonical genre names in table order.
func (t *GenreTable) Names() []string {
	return append([]string(nil), t.names...)
}

// Random picks one canonical genre, or "" for an empty table.
func (t *GenreTable) Random() string {
	if len(t.names) == 0 {
		return ""
	}
	return t.names[rand.IntN(len(t.names))]
}

// Query is the media query issued for a genre.
func (t *GenreTable) Query(name string) string {
	return name + " mix"
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
