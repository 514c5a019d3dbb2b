package command

import (
	"fmt"
	"math/rand/v2"
	"regexp"
)

// Trigger plays a sound clip immediately when its pattern appears in a
// transcript. Triggers bypass the queue and never produce a Command.
type Trigger struct {
	Pattern *regexp.Regexp
	Clip    string
	// Volume in (0, 1]; zero picks a random volume on every firing.
	Volume float64
}

// NewTrigger compiles pattern case-insensitively.
func NewTrigger(pattern, clip string, volume float64) (Trigger, error) {
	if clip == "" {
		return Trigger{}, fmt.Errorf("trigger %q: clip is required", pattern)
	}
	if volume < 0 || volume > 1 {
		return Trigger{}, fmt.Errorf("trigger %q: volume must be within [0, 1], got %v", pattern, volume)
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return Trigger{}, fmt.Errorf("trigger %q: %w", pattern, err)
	}
	return Trigger{Pattern: re, Clip: clip, Volume: volume}, nil
}

// PlaybackVolume resolves the volume to use for one firing.
func (t Trigger) PlaybackVolume() float64 {
	if t.Volume > 0 {
		return t.Volume
	}
	return 0.05 + rand.Float64()*0.95
}
