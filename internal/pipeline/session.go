package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/vinesh178/customer-service-agent/internal/agent"
	"github.com/vinesh178/customer-service-agent/internal/barge"
	"github.com/vinesh178/customer-service-agent/internal/llm"
)

// chunkReply splits an assistant reply into sentence-like chunks so transcript
// increments are committed only after the matching audio was emitted.
// Heuristic: split on '.', '?', '!' and newlines, retaining punctuation.
func chunkReply(reply string) []string {
	txt := strings.TrimSpace(reply)
	if txt == "" {
		return nil
	}
	var chunks []string
	var b strings.Builder
	for _, r := range txt {
		switch r {
		case '.', '!', '?':
			b.WriteRune(r)
			chunk := strings.TrimSpace(b.String())
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			b.Reset()
		case '\n', '\r':
			chunk := strings.TrimSpace(b.String())
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	tail := strings.TrimSpace(b.String())
	if tail != "" {
		chunks = append(chunks, tail)
	}
	return chunks
}

// Session runs the STT -> LLM -> TTS loop for one call. It satisfies the
// call controller's session contract.
type Session struct {
	transcriber  Transcriber
	chat         ChatModel
	tts          TTS
	sink         PCM48kSink
	detector     *barge.Detector
	instructions string
	onTranscript func(text string)

	mu               sync.Mutex
	tools            []agent.Tool
	history          []llm.Message
	speaking         bool
	ttsCancel        context.CancelFunc
	bargeInRequested bool
	started          bool
	runCancel        context.CancelFunc
}

// NewSession constructs a Session. instructions is the system prompt for the
// whole call.
func NewSession(t Transcriber, chat ChatModel, tts TTS, sink PCM48kSink, instructions string) *Session {
	if sink == nil {
		sink = nopSink{}
	}
	s := &Session{
		transcriber:  t,
		chat:         chat,
		tts:          tts,
		sink:         sink,
		instructions: instructions,
	}
	s.detector = barge.NewDetector(barge.DefaultTelephone(), barge.Events{
		OnInterrupt: func(ts time.Time, preRoll []byte) {
			log.Printf("pipeline: caller interruption detected")
			s.BargeIn()
		},
	})
	return s
}

// SetTools installs the callable actions offered to the model.
func (s *Session) SetTools(tools []agent.Tool) {
	s.mu.Lock()
	s.tools = tools
	s.mu.Unlock()
}

// SetOnTranscript installs an observer for running transcript fragments.
func (s *Session) SetOnTranscript(fn func(string)) { s.onTranscript = fn }

// SetSink replaces the playout sink. Call before Start.
func (s *Session) SetSink(sink PCM48kSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// Start connects the transcriber and begins the conversation loop.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("pipeline: session already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.transcriber.Connect(); err != nil {
		return fmt.Errorf("pipeline: connect transcriber: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.runCancel = cancel
	s.mu.Unlock()

	// Stream live transcript fragments to the barge detector and observer.
	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case t, ok := <-s.transcriber.GetTranscripts():
				if !ok {
					return
				}
				if t == "" {
					continue
				}
				s.detector.NotifyPartial(t)
				if s.onTranscript != nil {
					s.onTranscript(t)
				}
			}
		}
	}()

	// On finalized utterance, run one conversation turn.
	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case utterance, ok := <-s.transcriber.Finalize():
				if !ok {
					return
				}
				prompt := strings.TrimSpace(utterance)
				if prompt == "" {
					continue
				}
				log.Printf("heard(final): %s", prompt)
				s.awaitCallerSilence(runCtx)
				if err := s.GenerateReply(runCtx, prompt); err != nil {
					log.Printf("pipeline: turn failed: %v", err)
				}
			}
		}
	}()

	return nil
}

// awaitCallerSilence blocks until a short window passes without detected
// voice energy, bounded to avoid stalling the turn forever.
func (s *Session) awaitCallerSilence(ctx context.Context) {
	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	for waitCtx.Err() == nil {
		if !s.transcriber.RecentlyDetectedVoice(500 * time.Millisecond) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// GenerateReply runs one model round for the given user prompt and speaks the
// resulting text. Tool calls requested by the model are dispatched to their
// handlers.
func (s *Session) GenerateReply(ctx context.Context, prompt string) error {
	s.mu.Lock()
	msgs := make([]llm.Message, 0, len(s.history)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: s.instructions})
	msgs = append(msgs, s.history...)
	msgs = append(msgs, llm.Message{Role: "user", Content: prompt})
	tools := s.tools
	s.mu.Unlock()

	defs := make([]llm.ToolDef, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, llm.ToolDef{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}

	chatCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	completion, err := s.chat.Chat(chatCtx, msgs, defs)
	cancel()
	if err != nil {
		return fmt.Errorf("pipeline: chat: %w", err)
	}

	var spoken string
	if completion.Text != "" {
		spoken = s.speak(ctx, completion.Text, true)
	}

	s.mu.Lock()
	s.history = append(s.history, llm.Message{Role: "user", Content: prompt})
	if spoken != "" {
		s.history = append(s.history, llm.Message{Role: "assistant", Content: spoken})
	}
	s.mu.Unlock()

	for _, call := range completion.ToolCalls {
		s.dispatchTool(ctx, tools, call)
	}
	return nil
}

func (s *Session) dispatchTool(ctx context.Context, tools []agent.Tool, call llm.ToolCall) {
	for _, t := range tools {
		if t.Name != call.Name {
			continue
		}
		log.Printf("pipeline: invoking tool %s", call.Name)
		if err := t.Handler(ctx, call.Arguments); err != nil {
			log.Printf("pipeline: tool %s failed: %v", call.Name, err)
		}
		return
	}
	log.Printf("pipeline: model requested unknown tool %q", call.Name)
}

// Say speaks text directly, without a model round. When allowInterruptions is
// false the caller cannot barge in and playback always runs to completion.
func (s *Session) Say(ctx context.Context, text string, allowInterruptions bool) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	spoken := s.speak(ctx, text, allowInterruptions)
	if spoken == "" {
		return fmt.Errorf("pipeline: no audio produced for utterance")
	}
	s.mu.Lock()
	s.history = append(s.history, llm.Message{Role: "assistant", Content: spoken})
	s.mu.Unlock()
	return nil
}

// speak streams text through TTS chunk by chunk and returns the text actually
// spoken, which may be truncated by barge-in.
func (s *Session) speak(ctx context.Context, text string, allowInterruptions bool) string {
	s.detector.NotifyTTSText(text)

	ttsCtx, cancelTTS := context.WithCancel(ctx)
	s.mu.Lock()
	s.speaking = true
	s.ttsCancel = cancelTTS
	s.bargeInRequested = false
	s.mu.Unlock()
	s.detector.SetSpeaking(allowInterruptions)

	wroteAudio := false
	var spokenBuilder strings.Builder
	chunks := chunkReply(text)
CHUNK_LOOP:
	for i, chunk := range chunks {
		s.mu.Lock()
		barged := s.bargeInRequested
		s.mu.Unlock()
		if barged {
			break CHUNK_LOOP
		}

		pcmCh, errCh := s.tts.StreamPCM48k(ttsCtx, chunk)
		openPCM, openErr := true, true
		for openPCM || openErr {
			select {
			case b, ok := <-pcmCh:
				if ok {
					if len(b) > 0 {
						s.mu.Lock()
						drop := s.bargeInRequested
						s.mu.Unlock()
						if !drop {
							s.sink.WritePCM(b)
							wroteAudio = true
						}
					}
				} else {
					openPCM = false
				}
			case e, ok := <-errCh:
				if ok && e != nil {
					log.Printf("tts stream error: %v", e)
				}
				openErr = false
			case <-ctx.Done():
				openPCM, openErr = false, false
			}
		}

		s.mu.Lock()
		barged = s.bargeInRequested
		s.mu.Unlock()
		if barged {
			break CHUNK_LOOP
		}
		spokenBuilder.WriteString(strings.TrimSpace(chunk))
		if i < len(chunks)-1 {
			spokenBuilder.WriteString(" ")
		}
	}

	s.mu.Lock()
	wasBarged := s.bargeInRequested
	s.speaking = false
	s.ttsCancel = nil
	s.bargeInRequested = false
	s.mu.Unlock()
	s.detector.SetSpeaking(false)
	cancelTTS()
	if !wasBarged {
		s.sink.FlushTail()
	}

	spoken := strings.TrimSpace(spokenBuilder.String())
	if wasBarged && spoken != "" {
		spoken += " [INTERRUPTED BY USER]"
	}
	if !wroteAudio {
		return ""
	}
	return spoken
}

// WaitForPlayout blocks until queued audio has been played out or the context
// expires.
func (s *Session) WaitForPlayout(ctx context.Context) {
	for {
		if !s.IsSpeaking() && s.sink.Pending() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// IsSpeaking reports whether TTS playback is active.
func (s *Session) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// BargeIn cancels current TTS streaming and drops queued audio so the
// interruption feels instant.
func (s *Session) BargeIn() {
	s.mu.Lock()
	cancel := s.ttsCancel
	if s.speaking {
		s.bargeInRequested = true
	}
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.sink.Reset()
	s.detector.Reset()
}

// FeedPCM16KLE routes caller audio to the transcriber and the interruption
// detector.
func (s *Session) FeedPCM16KLE(pcm []byte) {
	_ = s.transcriber.SendPCM16KLE(pcm)
	s.detector.FeedMic16k(pcm)
}

// Close stops the conversation loop and releases the transcriber.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if err := s.transcriber.Close(); err != nil {
		return fmt.Errorf("pipeline: close transcriber: %w", err)
	}
	return nil
}

type nopSink struct{}

func (nopSink) WritePCM(_ []byte) {}
func (nopSink) FlushTail()        {}
func (nopSink) Reset()            {}
func (nopSink) Pending() int      { return 0 }
