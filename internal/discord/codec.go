package discord

// Discord voice carries 48kHz stereo Opus in 20ms frames.
const (
	sampleRate   = 48000
	channels     = 2
	frameSamples = sampleRate / 50 // per channel
	frameBytes   = frameSamples * channels * 2
	maxOpusBytes = 4000
)

type decoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

type encoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// isSilenceFrame reports the three byte comfort-noise packet clients send
// after they stop talking.
func isSilenceFrame(b []byte) bool {
	return len(b) == 3 && b[0] == 0xF8 && b[1] == 0xFF && b[2] == 0xFE
}
