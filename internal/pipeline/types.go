package pipeline

import (
	"context"
	"time"

	"github.com/vinesh178/customer-service-agent/internal/llm"
)

// Transcriber streams caller audio to a live ASR and reports utterances.
type Transcriber interface {
	Connect() error
	SendPCM16KLE(pcm []byte) error
	// GetTranscripts streams running transcript fragments.
	GetTranscripts() <-chan string
	// Finalize signals end-of-utterance with the full utterance text.
	Finalize() <-chan string
	// RecentlyDetectedVoice reports voice energy within the given window.
	RecentlyDetectedVoice(window time.Duration) bool
	Close() error
}

// ChatModel produces assistant replies and tool calls for a conversation.
type ChatModel interface {
	Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolDef) (llm.Completion, error)
}

// TTS synthesizes one utterance as streamed 48kHz PCM.
type TTS interface {
	StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// PCM48kSink receives synthesized audio for playout.
type PCM48kSink interface {
	WritePCM(p []byte)
	// FlushTail pads and flushes any partial frame at the end of an utterance.
	FlushTail()
	// Reset drops queued audio immediately for barge-in.
	Reset()
	// Pending reports queued frames not yet played out.
	Pending() int
}
