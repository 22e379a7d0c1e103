package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr      string
	PublicBaseURL string
	DatabaseURL   string
	SentryDSN     string
	LogLevel      string

	// Voice AI providers
	DeepgramAPIKey   string
	OpenAIAPIKey     string
	ElevenLabsAPIKey string

	// LLM settings
	LLMModel string

	// Voice engine defaults (clients may override per session over the websocket)
	GreetingText        string
	RecognitionLanguage string
	SilenceThresholdMs  int
	PostSpeechDelayMs   int

	// TTS voice shaping
	TTSStability  float64
	TTSSimilarity float64

	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Shared secret clients present to obtain a token
	AuthClientSecret string
}

func LoadConfigFromEnv() Config {
	jwtExpiry, err := time.ParseDuration(getenv("JWT_EXPIRY", "24h"))
	if err != nil {
		jwtExpiry = 24 * time.Hour
	}

	return Config{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL: getenv("PUBLIC_BASE_URL", "http://localhost:8080"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		SentryDSN:     getenv("SENTRY_DSN", ""),
		LogLevel:      getenv("LOG_LEVEL", "info"),

		// Voice AI providers
		DeepgramAPIKey:   getenv("DEEPGRAM_API_KEY", ""),
		OpenAIAPIKey:     getenv("OPENAI_API_KEY", ""),
		ElevenLabsAPIKey: getenv("ELEVENLABS_API_KEY", ""),

		LLMModel: getenv("LLM_MODEL", "gpt-4o-mini"),

		// Voice engine defaults
		GreetingText:        getenv("GREETING_TEXT", "Hi! I'm your tutor. What would you like to work on today?"),
		RecognitionLanguage: getenv("RECOGNITION_LANGUAGE", "en"),
		SilenceThresholdMs:  getenvIntClamped("SILENCE_THRESHOLD_MS", 600, 300, 2000),
		PostSpeechDelayMs:   getenvIntClamped("POST_SPEECH_DELAY_MS", 500, 200, 1000),

		// TTS voice shaping
		TTSStability:  getenvFloatClamped("TTS_STABILITY", 0.5, 0.0, 1.0),
		TTSSimilarity: getenvFloatClamped("TTS_SIMILARITY", 0.75, 0.0, 1.0),

		// JWT Authentication
		JWTSecret: os.Getenv("JWT_SECRET"), // Required - no fallback for security
		JWTExpiry: jwtExpiry,

		AuthClientSecret: os.Getenv("AUTH_CLIENT_SECRET"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvIntClamped reads an integer from the environment. Unset or unparsable
// values fall back to def; the result is clamped to [min, max] inclusive.
func getenvIntClamped(k string, def, min, max int) int {
	n := def
	if v := os.Getenv(k); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			n = parsed
		}
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// getenvFloatClamped is getenvIntClamped for floats.
func getenvFloatClamped(k string, def, min, max float64) float64 {
	f := def
	if v := os.Getenv(k); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			f = parsed
		}
	}
	if f < min {
		return min
	}
	if f > max {
		return max
	}
	return f
}
