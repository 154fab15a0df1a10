package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress  string
	APIAuthToken string

	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string
	SIPTrunkID       string
	SIPPhoneNumber   string

	AgentIdentity string

	DeepgramKey       string
	DeepgramSTTModel  string
	DeepgramTTSModel  string
	OpenAIKey         string
	OpenAIModelID     string
	TTSProvider       string
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	SupabaseURL string
	SupabaseKey string

	TwilioAccountSID string
	TwilioAuthToken  string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Error loading .env file")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	lkURL := os.Getenv("LIVEKIT_URL")
	lkKey := os.Getenv("LIVEKIT_API_KEY")
	lkSecret := os.Getenv("LIVEKIT_API_SECRET")
	if lkURL == "" || lkKey == "" || lkSecret == "" {
		log.Println("Warning: LIVEKIT_URL/LIVEKIT_API_KEY/LIVEKIT_API_SECRET not fully set - room operations will not work")
	}

	trunkID := os.Getenv("LIVEKIT_SIP_TRUNK_ID")
	if trunkID == "" {
		log.Println("Warning: LIVEKIT_SIP_TRUNK_ID not set - outbound calls will not work")
	}

	identity := os.Getenv("AGENT_IDENTITY")
	if identity == "" {
		identity = "service-agent"
	}

	dgKey := os.Getenv("DEEPGRAM_API_KEY")
	if dgKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - transcription will not work")
	}
	dgSTTModel := os.Getenv("DEEPGRAM_STT_MODEL")
	if dgSTTModel == "" {
		dgSTTModel = "nova-2"
	}
	dgTTSModel := os.Getenv("DEEPGRAM_TTS_MODEL")
	if dgTTSModel == "" {
		dgTTSModel = "aura-2-thalia-en"
	}

	openaiKey := os.Getenv("OPENAI_API_KEY")
	openaiModel := os.Getenv("OPENAI_MODEL_ID")
	if openaiModel == "" {
		openaiModel = "gpt-4.1"
	}
	if openaiKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set - LLM will not work")
	}

	ttsProvider := os.Getenv("TTS_PROVIDER")
	if ttsProvider == "" {
		ttsProvider = "deepgram"
	}
	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	voiceID := os.Getenv("ELEVENLABS_VOICE_ID")
	if ttsProvider == "elevenlabs" && (elevenKey == "" || voiceID == "") {
		log.Println("Warning: ELEVENLABS_API_KEY/ELEVENLABS_VOICE_ID not set - TTS will not work")
	}

	log.Printf("config: HTTP_ADDRESS=%s TTS_PROVIDER=%s", addr, ttsProvider)
	return Config{
		HTTPAddress:       addr,
		APIAuthToken:      os.Getenv("API_AUTH_TOKEN"),
		LiveKitURL:        lkURL,
		LiveKitAPIKey:     lkKey,
		LiveKitAPISecret:  lkSecret,
		SIPTrunkID:        trunkID,
		SIPPhoneNumber:    os.Getenv("SIP_PHONE_NUMBER"),
		AgentIdentity:     identity,
		DeepgramKey:       dgKey,
		DeepgramSTTModel:  dgSTTModel,
		DeepgramTTSModel:  dgTTSModel,
		OpenAIKey:         openaiKey,
		OpenAIModelID:     openaiModel,
		TTSProvider:       ttsProvider,
		ElevenLabsKey:     elevenKey,
		ElevenLabsVoiceID: voiceID,
		SupabaseURL:       os.Getenv("SUPABASE_URL"),
		SupabaseKey:       os.Getenv("SUPABASE_SERVICE_KEY"),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
	}
}
