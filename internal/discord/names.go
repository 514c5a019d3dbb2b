package discord

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// nameTTL controls how long a cached name is valid.
var nameTTL = 5 * time.Minute

type cachedName struct {
	val    string
	expiry time.Time
}

// Names resolves display names for log fields, preferring the gateway
// state cache over REST lookups.
type Names struct {
	s *discordgo.Session

	mu     sync.Mutex
	users  map[string]cachedName
	guilds map[string]cachedName
	kinds  map[string]cachedName
}

func NewNames(s *discordgo.Session) *Names {
	return &Names{
		s:      s,
		users:  make(map[string]cachedName),
		guilds: make(map[string]cachedName),
		kinds:  make(map[string]cachedName),
	}
}

func (n *Names) UserName(userID string) string {
	if n == nil {
		return ""
	}
	return n.lookup(n.users, userID, func() string {
		if u, err := n.s.User(userID); err == nil && u != nil {
			return u.Username
		}
		return ""
	})
}

func (n *Names) GuildName(guildID string) string {
	if n == nil {
		return ""
	}
	return n.lookup(n.guilds, guildID, func() string {
		if n.s.State != nil {
			if g, err := n.s.State.Guild(guildID); err == nil && g != nil {
				return g.Name
			}
		}
		if g, err := n.s.Guild(guildID); err == nil && g != nil {
			return g.Name
		}
		return ""
	})
}

// IsBot reports whether userID is a bot account. Unknown users are
// treated as people.
func (n *Names) IsBot(guildID, userID string) bool {
	if n == nil {
		return false
	}
	return n.lookup(n.kinds, userID, func() string {
		var u *discordgo.User
		if n.s.State != nil {
			if m, err := n.s.State.Member(guildID, userID); err == nil && m != nil {
				u = m.User
			}
		}
		if u == nil {
			if ru, err := n.s.User(userID); err == nil {
				u = ru
			}
		}
		switch {
		case u == nil:
			return ""
		case u.Bot:
			return "bot"
		}
		return "user"
	}) == "bot"
}

// lookup returns the cached value for id or calls fetch outside the lock.
// Empty results are not cached.
func (n *Names) lookup(m map[string]cachedName, id string, fetch func() string) string {
	if n.s == nil || id == "" {
		return ""
	}
	n.mu.Lock()
	if e, ok := m[id]; ok {
		if time.Now().Before(e.expiry) {
			n.mu.Unlock()
			return e.val
		}
		delete(m, id)
	}
	n.mu.Unlock()

	val := fetch()
	if val != "" {
		n.mu.Lock()
		m[id] = cachedName{val: val, expiry: time.Now().Add(nameTTL)}
		n.mu.Unlock()
	}
	return val
}
