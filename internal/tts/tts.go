package tts

import (
	"context"
	"fmt"
)

// Client synthesizes speech for one utterance, streaming 48kHz 16-bit
// little-endian mono PCM chunks. Both channels close when synthesis ends.
type Client interface {
	StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// Options carries provider credentials. Only the selected provider's fields
// are required.
type Options struct {
	DeepgramKey     string
	DeepgramModel   string
	ElevenLabsKey   string
	ElevenLabsVoice string
}

// New selects a synthesis provider by name ("deepgram" or "elevenlabs").
func New(provider string, opts Options) (Client, error) {
	switch provider {
	case "", "deepgram":
		return NewDeepgramClient(opts.DeepgramKey, opts.DeepgramModel), nil
	case "elevenlabs":
		return NewElevenLabsClient(opts.ElevenLabsKey, opts.ElevenLabsVoice), nil
	default:
		return nil, fmt.Errorf("tts: unknown provider %q", provider)
	}
}
