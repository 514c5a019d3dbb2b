package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-voice-lab/jukebox/internal/config"
	"github.com/discord-voice-lab/jukebox/internal/logging"
)

// sensitiveKeys lists JSON keys which should never be logged in plaintext.
var sensitiveKeys = map[string]struct{}{
	"token": {}, "session_id": {}, "access_token": {}, "refresh_token": {},
	"authorization": {}, "password": {}, "email": {}, "client_secret": {},
}

// redactAny replaces values of sensitive keys in decoded JSON, in place.
func redactAny(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		for k, val := range vv {
			if _, ok := sensitiveKeys[strings.ToLower(k)]; ok {
				vv[k] = "<redacted>"
				continue
			}
			vv[k] = redactAny(val)
		}
		return vv
	case []any:
		for i, it := range vv {
			vv[i] = redactAny(it)
		}
		return vv
	default:
		return v
	}
}

// eventLogger logs every gateway event. Detailed types go to info with
// their payload; the rest go to debug with ids only.
type eventLogger struct {
	detailed   map[string]struct{}
	maxPayload int
}

func newEventLogger(c config.LoggingConfig) *eventLogger {
	l := &eventLogger{detailed: make(map[string]struct{}), maxPayload: c.EventPayloadBytes}
	for _, t := range c.DetailedEvents {
		l.detailed[strings.ToUpper(t)] = struct{}{}
	}
	if l.maxPayload <= 0 {
		l.maxPayload = 1024
	}
	return l
}

func (l *eventLogger) handle(_ *discordgo.Session, evt *discordgo.Event) {
	if evt == nil {
		return
	}
	fields, payload := l.describe(evt)
	if _, ok := l.detailed[evt.Type]; ok {
		logging.Infow("discord event", append(fields, "payload", payload)...)
		return
	}
	logging.Debugw("discord event", fields...)
}

// describe extracts searchable ids and a redacted, truncated payload.
func (l *eventLogger) describe(evt *discordgo.Event) ([]interface{}, string) {
	fields := []interface{}{"type", evt.Type}
	var decoded any
	if err := json.Unmarshal(evt.RawData, &decoded); err != nil {
		return fields, "<raw data omitted>"
	}
	decoded = redactAny(decoded)
	if m, ok := decoded.(map[string]any); ok {
		for _, k := range []string{"guild_id", "channel_id", "user_id"} {
			if v, ok := m[k].(string); ok && v != "" {
				fields = append(fields, k, v)
			}
		}
	}
	b, err := json.Marshal(decoded)
	if err != nil {
		return fields, "<unencodable payload>"
	}
	if len(b) > l.maxPayload {
		return fields, fmt.Sprintf("%s<truncated %d bytes>", b[:l.maxPayload], len(b)-l.maxPayload)
	}
	return fields, string(b)
}
