package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/vinesh178/customer-service-agent/internal/agent"
	"github.com/vinesh178/customer-service-agent/internal/callctx"
	"github.com/vinesh178/customer-service-agent/internal/config"
	"github.com/vinesh178/customer-service-agent/internal/directory"
	"github.com/vinesh178/customer-service-agent/internal/livekit"
	"github.com/vinesh178/customer-service-agent/internal/llm"
	"github.com/vinesh178/customer-service-agent/internal/pipeline"
	"github.com/vinesh178/customer-service-agent/internal/stt"
	"github.com/vinesh178/customer-service-agent/internal/tts"
)

// roomConnector joins the room and publishes the agent's voice track in one
// step so the playout sink is in place before the first reply is spoken.
type roomConnector struct {
	manager   *livekit.Manager
	roomAudio *pipeline.RoomAudio
}

func (c *roomConnector) Connect(ctx context.Context, roomName string) error {
	if err := c.manager.Connect(ctx, roomName); err != nil {
		return err
	}
	return c.roomAudio.PublishMicrophone(c.manager.Room(), "agent-voice")
}

func (c *roomConnector) DeleteRoom(ctx context.Context, roomName string) error {
	return c.manager.DeleteRoom(ctx, roomName)
}

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	roomName := flag.String("room", os.Getenv("ROOM_NAME"), "call room to join (inbound_* or outbound_*)")
	flag.Parse()
	if *roomName == "" {
		log.Fatal("room name required: pass --room or set ROOM_NAME")
	}

	var dir directory.Directory
	if cfg.SupabaseURL != "" && cfg.SupabaseKey != "" {
		sb, err := directory.NewSupabase(cfg.SupabaseURL, cfg.SupabaseKey)
		if err != nil {
			log.Printf("supabase directory unavailable, using demo records: %v", err)
			dir = directory.NewDemo()
		} else {
			dir = sb
		}
	} else {
		dir = directory.NewDemo()
	}

	resolver, err := callctx.NewResolver(dir)
	if err != nil {
		log.Fatalf("build prompt resolver: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	info, err := resolver.Resolve(ctx, *roomName)
	if err != nil {
		log.Fatalf("resolve call context for %q: %v", *roomName, err)
	}
	log.Printf("agent: handling %s call for %s", info.Direction, info.CallerKey)

	synth, err := tts.New(cfg.TTSProvider, tts.Options{
		DeepgramKey:     cfg.DeepgramKey,
		DeepgramModel:   cfg.DeepgramTTSModel,
		ElevenLabsKey:   cfg.ElevenLabsKey,
		ElevenLabsVoice: cfg.ElevenLabsVoiceID,
	})
	if err != nil {
		log.Fatalf("select tts provider: %v", err)
	}

	transcriber := stt.NewDeepgramService(cfg.DeepgramKey, cfg.DeepgramSTTModel)
	chat := llm.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIModelID)
	sess := pipeline.NewSession(transcriber, chat, synth, nil, info.Instructions)

	manager := livekit.NewManager(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.AgentIdentity)
	roomAudio := pipeline.NewRoomAudio(sess)
	manager.SetCallback(roomAudio.Callback())

	shutdown := func(reason string) {
		if reason != "" {
			log.Printf("agent: session shutdown: %s", reason)
		}
		cancel()
	}

	ctrl, err := agent.NewController(info, sess, &roomConnector{manager: manager, roomAudio: roomAudio}, shutdown, agent.Config{})
	if err != nil {
		log.Fatalf("build call controller: %v", err)
	}
	sess.SetTools(ctrl.Tools())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("agent: shutdown signal received: %v", sig)
		ctrl.Terminate("")
	}()

	if err := ctrl.Run(ctx); err != nil {
		log.Fatalf("agent run: %v", err)
	}

	<-ctx.Done()
	roomAudio.Close()
	manager.Disconnect()
}
