//go:build opus
// +build opus

package discord

import "github.com/hraban/opus"

func newDecoder() (decoder, error) {
	d, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func newEncoder() (encoder, error) {
	e, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, err
	}
	return e, nil
}
