package app

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkubicek/lektor/internal/eventlog"
	"github.com/mkubicek/lektor/internal/httpapi"
	"github.com/mkubicek/lektor/internal/store"
)

type App struct {
	cfg        Config
	logger     *log.Logger
	db         *pgxpool.Pool
	store      *store.Store
	eventLog   *eventlog.Logger
	httpClient *http.Client // Shared HTTP client with connection pooling for TTS
}

// New wires the application. The database is optional: without DATABASE_URL
// the server runs live conversations but persists nothing.
func New(cfg Config, logger *log.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		db, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, err
		}

		a.db = db
		a.store = store.New(db)
		a.eventLog = eventlog.New(db)

		// Migrations are applied externally by the CI deploy job (docker exec psql).
		// No automatic migration runner at startup.
	} else {
		logger.Printf("app: DATABASE_URL not set, persistence disabled")
	}

	// Shared HTTP client with connection pooling for TTS.
	// Keeps TCP connections alive to reduce latency for repeated TTS calls to ElevenLabs.
	a.httpClient = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10, // ElevenLabs is single host
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	return a, nil
}

func (a *App) Router(sessions *httpapi.SessionRegistry) http.Handler {
	routerCfg := httpapi.RouterConfig{
		PublicBaseURL:       a.cfg.PublicBaseURL,
		DeepgramAPIKey:      a.cfg.DeepgramAPIKey,
		OpenAIAPIKey:        a.cfg.OpenAIAPIKey,
		ElevenLabsAPIKey:    a.cfg.ElevenLabsAPIKey,
		LLMModel:            a.cfg.LLMModel,
		TTSStability:        a.cfg.TTSStability,
		TTSSimilarity:       a.cfg.TTSSimilarity,
		TTSHTTPClient:       a.httpClient,
		GreetingText:        a.cfg.GreetingText,
		RecognitionLanguage: a.cfg.RecognitionLanguage,
		SilenceThresholdMs:  a.cfg.SilenceThresholdMs,
		PostSpeechDelayMs:   a.cfg.PostSpeechDelayMs,
		JWTSecret:           a.cfg.JWTSecret,
		JWTExpiry:           a.cfg.JWTExpiry,
		AuthClientSecret:    a.cfg.AuthClientSecret,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.store, a.eventLog, sessions)
}

func (a *App) Close() error {
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
