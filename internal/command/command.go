// Package command turns transcripts and chat messages into canonical
// commands. It is pure: nothing here touches sessions, audio or the network.
package command

import "strings"

// Kind is a canonical command token.
type Kind string

const (
	Help          Kind = "help"
	Join          Kind = "join"
	Leave         Kind = "leave"
	Play          Kind = "play"
	PlayRandom    Kind = "play-random"
	PlayFavorites Kind = "play-favorites"
	Genre         Kind = "genre"
	Pause         Kind = "pause"
	Resume        Kind = "resume"
	Shuffle       Kind = "shuffle"
	Favorite      Kind = "favorite"
	Unfavorite    Kind = "unfavorite"
	Favorites     Kind = "favorites"
	Genres        Kind = "genres"
	Clear         Kind = "clear"
	Random        Kind = "random"
	Skip          Kind = "skip"
	List          Kind = "list"
	Debug         Kind = "debug"
	Hello         Kind = "hello"

	// Unrecognized carries the original text in Arg so it can be echoed back.
	Unrecognized Kind = "unrecognized"
)

// Command is an immutable canonical instruction plus optional argument.
type Command struct {
	Kind Kind
	Arg  string
}

func (c Command) String() string {
	if c.Arg == "" {
		return string(c.Kind)
	}
	return string(c.Kind) + " " + c.Arg
}

// NeedsVoice reports whether the command drives playback and therefore
// requires (and may auto-open) a voice session.
func (c Command) NeedsVoice() bool {
	switch c.Kind {
	case Play, PlayRandom, PlayFavorites, Genre, Random, Pause, Resume,
		Shuffle, Skip, Clear, List, Favorite, Unfavorite, Favorites, Genres:
		return true
	}
	return false
}

// ParseKind maps a case-insensitive token (e.g. "PLAY-RANDOM") to its Kind.
func ParseKind(token string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(token)))
	switch k {
	case Help, Join, Leave, Play, PlayRandom, PlayFavorites, Genre, Pause, Resume,
		Shuffle, Favorite, Unfavorite, Favorites, Genres, Clear, Random, Skip, List, Debug, Hello:
		return k, true
	}
	return "", false
}
