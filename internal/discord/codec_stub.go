//go:build !opus
// +build !opus

package discord

import "errors"

// Builds without libopus can serve text commands but cannot join voice.
var errNoCodec = errors.New("voice codec unavailable: build with -tags opus")

func newDecoder() (decoder, error) { return nil, errNoCodec }
func newEncoder() (encoder, error) { return nil, errNoCodec }
