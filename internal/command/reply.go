package command

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultMessageLimit is Discord's maximum message length.
const DefaultMessageLimit = 2000

const fence = "```"

// ErrLineTooLong is returned when a single line can't fit in one message.
var ErrLineTooLong = errors.New("reply line exceeds message limit")

// ChunkReply splits msg on line boundaries into code-fenced chunks of at
// most limit characters each.
func ChunkReply(msg string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	budget := limit - 2*len(fence)
	var chunks []string
	var cur strings.Builder
	for _, line := range strings.Split(strings.TrimRight(msg, "\n"), "\n") {
		line += "\n"
		if len(line) > budget {
			return nil, fmt.Errorf("%w: %d > %d", ErrLineTooLong, len(line), budget)
		}
		if cur.Len()+len(line) > budget {
			chunks = append(chunks, fence+cur.String()+fence)
			cur.Reset()
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, fence+cur.String()+fence)
	}
	return chunks, nil
}

// HelpText describes the spoken and typed command surface.
func HelpText(prefix, wakePhrase string) string {
	say := func(s string) string {
		if wakePhrase == "" {
			return s + "\n"
		}
		return wakePhrase + " " + s + "\n"
	}
	var b strings.Builder
	b.WriteString("**VOICE COMMANDS:**\n" + fence)
	b.WriteString(say("help"))
	b.WriteString(say("play [random, favorites, <genre> or query]"))
	b.WriteString(say("skip"))
	b.WriteString(say("pause/resume"))
	b.WriteString(say("shuffle"))
	b.WriteString(say("genres"))
	b.WriteString(say("set favorite"))
	b.WriteString(say("favorites"))
	b.WriteString(say("list"))
	b.WriteString(say("clear list"))
	b.WriteString(fence)

	b.WriteString("**TEXT COMMANDS:**\n" + fence)
	for _, line := range []string{
		"help",
		"join/" + prefix + "leave",
		"play [query]",
		"genre [name]",
		"random",
		"pause/" + prefix + "resume",
		"skip",
		"shuffle",
		"favorite",
		"unfavorite [name]",
		"favorites",
		"genres",
		"list",
		"clear",
		"debug",
	} {
		b.WriteString(prefix + line + "\n")
	}
	b.WriteString(fence)
	return b.String()
}
