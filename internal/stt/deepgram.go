package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mkubicek/lektor/internal/voice"
)

const deepgramWSURL = "wss://api.deepgram.com/v1/listen"

// DeepgramEngine implements voice.Capture over Deepgram's streaming API.
// Each Start dials a fresh connection and returns fresh channels, so the
// feedback guard can stop and restart capture runs freely. A Stop issued
// while a run is active surfaces voice.ErrCaptureAborted on the error
// channel.
type DeepgramEngine struct {
	cfg    DeepgramConfig
	logger *log.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	done     chan struct{}
	stopping bool
	language string
}

// DeepgramConfig holds connection parameters for the streaming API.
type DeepgramConfig struct {
	APIKey         string
	Language       string // BCP-47 tag, e.g. "en" or "cs"
	Model          string // e.g. "nova-3"
	SampleRate     int    // e.g. 16000 for browser PCM
	Encoding       string // e.g. "linear16"
	Channels       int
	InterimResults bool
	Endpointing    int // ms of silence for provider-side endpointing, 0 for default
}

type deepgramResponse struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal bool `json:"is_final"`
}

// NewDeepgramEngine creates a capture engine. No connection is made until
// Start.
func NewDeepgramEngine(cfg DeepgramConfig, logger *log.Logger) *DeepgramEngine {
	if cfg.Model == "" {
		cfg.Model = "nova-3"
	}
	if logger == nil {
		logger = log.Default()
	}
	return &DeepgramEngine{cfg: cfg, logger: logger, language: cfg.Language}
}

// SetLanguage changes the recognition language for subsequent capture runs.
func (e *DeepgramEngine) SetLanguage(code string) {
	e.mu.Lock()
	e.language = code
	e.mu.Unlock()
}

// Start dials Deepgram and begins a capture run. The event channel is closed
// when the run ends, from either side.
func (e *DeepgramEngine) Start(ctx context.Context) (<-chan voice.SpeechEvent, <-chan error, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn != nil {
		return nil, nil, fmt.Errorf("capture already running")
	}

	url := fmt.Sprintf("%s?model=%s&language=%s&encoding=%s&sample_rate=%d&channels=%d&punctuate=true&interim_results=%t",
		deepgramWSURL,
		e.cfg.Model,
		e.language,
		e.cfg.Encoding,
		e.cfg.SampleRate,
		e.cfg.Channels,
		e.cfg.InterimResults,
	)
	if e.cfg.Endpointing > 0 {
		url += fmt.Sprintf("&endpointing=%d", e.cfg.Endpointing)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+e.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, headers)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Deepgram: %w", err)
	}

	events := make(chan voice.SpeechEvent, 64)
	errs := make(chan error, 8)
	done := make(chan struct{})

	e.conn = conn
	e.done = done
	e.stopping = false

	go e.readLoop(conn, done, events, errs)

	return events, errs, nil
}

// StreamAudio forwards raw audio to the active run. A no-op error is returned
// when no run is active (audio that arrives mid-restart is dropped upstream).
func (e *DeepgramEngine) StreamAudio(ctx context.Context, audio []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return fmt.Errorf("capture not running")
	}
	return e.conn.WriteMessage(websocket.BinaryMessage, audio)
}

// Stop ends the active run. The run's event channel closes after the read
// loop drains; a voice.ErrCaptureAborted is reported so the session knows the
// stop was engine-initiated.
func (e *DeepgramEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	e.stopping = true
	close(e.done)

	closeMsg := []byte(`{"type": "CloseStream"}`)
	_ = e.conn.WriteMessage(websocket.TextMessage, closeMsg)
	err := e.conn.Close()
	e.conn = nil
	e.done = nil
	return err
}

func (e *DeepgramEngine) readLoop(conn *websocket.Conn, done chan struct{}, events chan voice.SpeechEvent, errs chan error) {
	defer close(events)

	for {
		select {
		case <-done:
			errs <- voice.ErrCaptureAborted
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			e.mu.Lock()
			stopping := e.stopping
			if e.conn == conn {
				e.conn = nil
				e.done = nil
			}
			e.mu.Unlock()

			if stopping {
				errs <- voice.ErrCaptureAborted
			} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				errs <- fmt.Errorf("deepgram read: %w", err)
			}
			return
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			e.logger.Printf("deepgram: failed to parse response: %v", err)
			continue
		}
		if resp.Type != "Results" {
			continue
		}

		var transcript string
		var confidence float64
		if len(resp.Channel.Alternatives) > 0 {
			alt := resp.Channel.Alternatives[0]
			transcript = alt.Transcript
			confidence = alt.Confidence
		}
		if transcript == "" && !resp.IsFinal {
			continue
		}

		select {
		case <-done:
			errs <- voice.ErrCaptureAborted
			return
		case events <- voice.SpeechEvent{Transcript: transcript, Confidence: confidence, IsFinal: resp.IsFinal}:
		}
	}
}
