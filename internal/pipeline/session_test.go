package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinesh178/customer-service-agent/internal/agent"
	"github.com/vinesh178/customer-service-agent/internal/llm"
)

type fakeTranscriber struct {
	transcripts chan string
	finals      chan string
	closed      int32
}

func newFakeTranscriber() *fakeTranscriber {
	return &fakeTranscriber{transcripts: make(chan string, 10), finals: make(chan string, 10)}
}

func (f *fakeTranscriber) Connect() error                        { return nil }
func (f *fakeTranscriber) SendPCM16KLE(pcm []byte) error         { return nil }
func (f *fakeTranscriber) GetTranscripts() <-chan string         { return f.transcripts }
func (f *fakeTranscriber) Finalize() <-chan string               { return f.finals }
func (f *fakeTranscriber) RecentlyDetectedVoice(time.Duration) bool { return false }
func (f *fakeTranscriber) Close() error                          { atomic.AddInt32(&f.closed, 1); return nil }

type fakeChat struct {
	mu         sync.Mutex
	completion llm.Completion
	err        error
	calls      [][]llm.Message
	toolDefs   [][]llm.ToolDef
}

func (f *fakeChat) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolDef) (llm.Completion, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msgs)
	f.toolDefs = append(f.toolDefs, tools)
	f.mu.Unlock()
	if f.err != nil {
		return llm.Completion{}, f.err
	}
	return f.completion, nil
}

type fakeTTS struct {
	frames int32
	silent bool
}

func (f *fakeTTS) StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcm := make(chan []byte, 10)
	errc := make(chan error, 1)
	go func() {
		defer close(pcm)
		defer close(errc)
		if f.silent {
			return
		}
		for i := 0; i < 3; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			pcm <- []byte{1, 0, 2, 0}
			atomic.AddInt32(&f.frames, 1)
			time.Sleep(5 * time.Millisecond)
		}
	}()
	return pcm, errc
}

type fakeSink struct{ wrote int32 }

func (s *fakeSink) WritePCM(p []byte) { atomic.AddInt32(&s.wrote, 1) }
func (*fakeSink) FlushTail()          {}
func (*fakeSink) Reset()              {}
func (*fakeSink) Pending() int        { return 0 }

func TestSession_RespondsToFinalizedUtterance(t *testing.T) {
	tr := newFakeTranscriber()
	chat := &fakeChat{completion: llm.Completion{Text: "Sure, I can help with that."}}
	sink := &fakeSink{}
	sess := NewSession(tr, chat, &fakeTTS{}, sink, "You are Sarah.")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sess.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sess.Close(context.Background())

	tr.finals <- "my furnace is broken"

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&sink.wrote) == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	if atomic.LoadInt32(&sink.wrote) == 0 {
		t.Fatalf("expected synthesized audio written to sink")
	}

	chat.mu.Lock()
	defer chat.mu.Unlock()
	if len(chat.calls) != 1 {
		t.Fatalf("expected one chat round, got %d", len(chat.calls))
	}
	msgs := chat.calls[0]
	if msgs[0].Role != "system" || msgs[0].Content != "You are Sarah." {
		t.Fatalf("system prompt missing: %+v", msgs[0])
	}
	if last := msgs[len(msgs)-1]; last.Role != "user" || last.Content != "my furnace is broken" {
		t.Fatalf("user turn missing: %+v", last)
	}
}

func TestSession_ToolCallDispatchedToHandler(t *testing.T) {
	tr := newFakeTranscriber()
	chat := &fakeChat{completion: llm.Completion{
		ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "leave_voicemail", Arguments: `{"voicemail_message":"hi"}`}},
	}}
	sess := NewSession(tr, chat, &fakeTTS{}, &fakeSink{}, "instructions")

	var gotArgs string
	sess.SetTools([]agent.Tool{{
		Name:        "leave_voicemail",
		Description: "leave a message",
		Parameters:  map[string]string{"voicemail_message": "the message"},
		Handler: func(ctx context.Context, argsJSON string) error {
			gotArgs = argsJSON
			return nil
		},
	}})

	if err := sess.GenerateReply(context.Background(), "nobody answered"); err != nil {
		t.Fatalf("generate reply: %v", err)
	}
	if gotArgs != `{"voicemail_message":"hi"}` {
		t.Fatalf("handler args: %q", gotArgs)
	}

	chat.mu.Lock()
	defer chat.mu.Unlock()
	if len(chat.toolDefs[0]) != 1 || chat.toolDefs[0][0].Name != "leave_voicemail" {
		t.Fatalf("tool definitions not offered to model: %+v", chat.toolDefs[0])
	}
}

func TestSession_NoHistoryOnChatError(t *testing.T) {
	tr := newFakeTranscriber()
	chat := &fakeChat{err: errors.New("boom")}
	sess := NewSession(tr, chat, &fakeTTS{}, &fakeSink{}, "instructions")

	if err := sess.GenerateReply(context.Background(), "hi"); err == nil {
		t.Fatalf("expected error from chat failure")
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if len(sess.history) != 0 {
		t.Fatalf("history must stay empty on chat error, got %+v", sess.history)
	}
}

func TestSession_BargeInTruncatesSpokenHistory(t *testing.T) {
	tr := newFakeTranscriber()
	tts := &fakeTTS{}
	sess := NewSession(tr, &fakeChat{}, tts, &fakeSink{}, "instructions")

	done := make(chan string, 1)
	go func() {
		done <- sess.speak(context.Background(), "Hello world. This will be interrupted. And this too.", true)
	}()

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) && atomic.LoadInt32(&tts.frames) == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	sess.BargeIn()

	spoken := <-done
	if spoken != "" && !containsSuffix(spoken, "[INTERRUPTED BY USER]") {
		t.Fatalf("interrupted speech must carry the marker, got %q", spoken)
	}
}

func containsSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func TestSession_SayFailsWhenNoAudioProduced(t *testing.T) {
	tr := newFakeTranscriber()
	sess := NewSession(tr, &fakeChat{}, &fakeTTS{silent: true}, &fakeSink{}, "instructions")
	if err := sess.Say(context.Background(), "hello", false); err == nil {
		t.Fatalf("expected error when synthesis yields no audio")
	}
}

func TestSession_SayRecordsSpokenText(t *testing.T) {
	tr := newFakeTranscriber()
	sess := NewSession(tr, &fakeChat{}, &fakeTTS{}, &fakeSink{}, "instructions")
	if err := sess.Say(context.Background(), "Hi, this is Sarah.", false); err != nil {
		t.Fatalf("say: %v", err)
	}
	sess.WaitForPlayout(context.Background())

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if len(sess.history) != 1 || sess.history[0].Role != "assistant" {
		t.Fatalf("expected one assistant turn, got %+v", sess.history)
	}
}

func TestSession_CloseReleasesTranscriber(t *testing.T) {
	tr := newFakeTranscriber()
	sess := NewSession(tr, &fakeChat{}, &fakeTTS{}, &fakeSink{}, "instructions")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sess.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sess.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if atomic.LoadInt32(&tr.closed) != 1 {
		t.Fatalf("transcriber not closed")
	}
}

func TestChunkReply_SplitsAndTrims(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"  Hello world.  How are you?\nI am fine!  ", []string{"Hello world.", "How are you?", "I am fine!"}},
		{"no punctuation here", []string{"no punctuation here"}},
		{"", nil},
	}
	for _, tc := range cases {
		got := chunkReply(tc.in)
		if len(got) != len(tc.want) {
			t.Fatalf("len mismatch for %q: got %d want %d", tc.in, len(got), len(tc.want))
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("elem %d mismatch: got %q want %q", i, got[i], tc.want[i])
			}
		}
	}
}
