package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/mkubicek/lektor/internal/eventlog"
	"github.com/mkubicek/lektor/internal/store"
)

type RouterConfig struct {
	PublicBaseURL string

	// Voice AI providers
	DeepgramAPIKey   string
	OpenAIAPIKey     string
	ElevenLabsAPIKey string

	// LLM settings
	LLMModel string

	// TTS settings
	TTSStability  float64 // ElevenLabs voice stability (0.0-1.0), -1 for default
	TTSSimilarity float64 // ElevenLabs voice similarity boost (0.0-1.0), -1 for default
	TTSHTTPClient *http.Client

	// Voice engine defaults (overridable per session via the websocket)
	GreetingText        string
	RecognitionLanguage string
	SilenceThresholdMs  int
	PostSpeechDelayMs   int

	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Shared secret clients present to obtain a session token
	AuthClientSecret string
}

type Router struct {
	cfg      RouterConfig
	logger   *log.Logger
	store    *store.Store // nil when persistence is disabled
	eventLog *eventlog.Logger
	registry *SessionRegistry
	mux      *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *log.Logger, s *store.Store, eventLog *eventlog.Logger, registry *SessionRegistry) http.Handler {
	r := &Router{
		cfg:      cfg,
		logger:   logger,
		store:    s,
		eventLog: eventLog,
		registry: registry,
		mux:      http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health checks
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)

	// Auth (public, secret-gated)
	r.mux.HandleFunc("POST /auth/token", r.handleIssueToken)

	// Live conversation websocket (token passed as query parameter)
	r.mux.HandleFunc("GET /conversation", r.handleConversationWS)

	// History (protected)
	r.mux.HandleFunc("GET /api/conversations", r.withAuth(r.handleListConversations))
	r.mux.HandleFunc("GET /api/conversations/{id}", r.withAuth(r.handleGetConversation))
	r.mux.HandleFunc("GET /api/conversations/{id}/utterances", r.withAuth(r.handleListUtterances))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports 503 while draining so the load balancer stops routing
// new conversations here during shutdown.
func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.registry.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
