package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mkubicek/lektor/internal/eventlog"
	"github.com/mkubicek/lektor/internal/llm"
	"github.com/mkubicek/lektor/internal/store"
	"github.com/mkubicek/lektor/internal/stt"
	"github.com/mkubicek/lektor/internal/tts"
	"github.com/mkubicek/lektor/internal/voice"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Browser capture settings. The client sends 16 kHz mono little-endian PCM.
const (
	audioSampleRate = 16000
	audioEncoding   = "linear16"
)

// audioChunkBytes is the raw size of one outbound audio message.
const audioChunkBytes = 32 * 1024

// playbackAckTimeout bounds how long we wait for the client's playback-ended
// ack before treating the playback as finished anyway, so a silent client
// can't wedge the turn cycle.
const playbackAckTimeout = 90 * time.Second

// energyBins is the size of the rolling RMS window handed to the
// visualization sampler.
const energyBins = 32

// clientMessage is everything the browser can send us.
type clientMessage struct {
	Type string `json:"type"`

	// start
	Subject    string `json:"subject,omitempty"`
	Persona    string `json:"persona,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
	Language   string `json:"language,omitempty"`

	// audio
	Payload string `json:"payload,omitempty"` // base64 PCM

	// playback-ended
	ID string `json:"id,omitempty"`

	// config
	SilenceMs          *int  `json:"silence_ms,omitempty"`
	DelayMs            *int  `json:"delay_ms,omitempty"`
	FeedbackPrevention *bool `json:"feedback_prevention,omitempty"`
}

// serverMessage is everything we send to the browser.
type serverMessage struct {
	Type string `json:"type"`

	ConversationID string    `json:"conversation_id,omitempty"`
	Text           string    `json:"text,omitempty"`
	State          string    `json:"state,omitempty"`
	Kind           string    `json:"kind,omitempty"`
	Message        string    `json:"message,omitempty"`
	ID             string    `json:"id,omitempty"`
	Payload        string    `json:"payload,omitempty"`
	Final          bool      `json:"final,omitempty"`
	Level          float64   `json:"level,omitempty"`
	RampMs         int       `json:"ramp_ms,omitempty"`
	Samples        []float64 `json:"samples,omitempty"`
}

// convSession bridges one browser connection to a voice engine session. It
// implements the engine's Player, GainControl, EnergySource and Observer
// collaborators on top of the websocket.
type convSession struct {
	id string

	conn   *websocket.Conn
	connMu sync.Mutex

	cfg      RouterConfig
	logger   *log.Logger
	store    *store.Store
	eventLog *eventlog.Logger

	sttEngine *stt.DeepgramEngine
	session   *voice.Session
	responder *historyResponder

	seqMu        sync.Mutex
	utteranceSeq int

	playMu sync.Mutex
	plays  map[string]*wsPlayback

	energyMu sync.Mutex
	energy   []float64

	ctx    context.Context
	cancel context.CancelFunc
}

func (r *Router) handleConversationWS(w http.ResponseWriter, req *http.Request) {
	if r.cfg.DeepgramAPIKey == "" || r.cfg.OpenAIAPIKey == "" || r.cfg.ElevenLabsAPIKey == "" {
		r.logger.Printf("conversation_ws: missing API keys")
		captureError(req, fmt.Errorf("voice engine not configured: missing API keys"), "conversation_ws: configuration error")
		http.Error(w, "voice engine not configured", http.StatusServiceUnavailable)
		return
	}

	if !r.authorizeWS(req) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if !r.registry.Add() {
		http.Error(w, "server is draining", http.StatusServiceUnavailable)
		return
	}
	defer r.registry.Done()

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("conversation_ws: upgrade failed: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(req.Context())

	cs := &convSession{
		id:       uuid.NewString(),
		conn:     conn,
		cfg:      r.cfg,
		logger:   r.logger,
		store:    r.store,
		eventLog: r.eventLog,
		plays:    make(map[string]*wsPlayback),
		ctx:      ctx,
		cancel:   cancel,
	}

	r.logger.Printf("conversation_ws: connection established, waiting for start message")
	cs.run()
}

func (cs *convSession) run() {
	defer cs.cleanup()

	for {
		select {
		case <-cs.ctx.Done():
			return
		default:
		}

		_, msg, err := cs.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cs.logger.Printf("conversation_ws: connection closed for %s", cs.id)
			} else {
				cs.logger.Printf("conversation_ws: read error for %s: %v", cs.id, err)
			}
			return
		}

		var cm clientMessage
		if err := json.Unmarshal(msg, &cm); err != nil {
			cs.logger.Printf("conversation_ws: failed to parse message: %v", err)
			continue
		}

		switch cm.Type {
		case "start":
			if err := cs.handleStart(cm); err != nil {
				cs.logger.Printf("conversation_ws: start error: %v", err)
				cs.sendError("generic", "Could not start the conversation.")
				return
			}

		case "audio":
			if err := cs.handleAudio(cm.Payload); err != nil {
				cs.logger.Printf("conversation_ws: audio error: %v", err)
			}

		case "playback-ended":
			cs.finishPlayback(cm.ID, nil)

		case "submit":
			if cs.session != nil {
				cs.session.ForceFinalize()
			}

		case "pause":
			if cs.session != nil {
				cs.session.Pause()
				cs.eventLog.LogAsync(cs.id, eventlog.EventPaused, nil)
			}

		case "resume":
			if cs.session != nil {
				cs.session.Resume()
				cs.eventLog.LogAsync(cs.id, eventlog.EventResumed, nil)
			}

		case "config":
			cs.handleConfig(cm)

		case "stop":
			cs.logger.Printf("conversation_ws: stop requested for %s", cs.id)
			return
		}
	}
}

// handleStart builds the provider clients and the engine session. Must be the
// first message on the socket.
func (cs *convSession) handleStart(cm clientMessage) error {
	if cs.session != nil {
		return fmt.Errorf("session already started")
	}

	language := cs.cfg.RecognitionLanguage
	if cm.Language != "" {
		language = cm.Language
	}

	cs.sttEngine = stt.NewDeepgramEngine(stt.DeepgramConfig{
		APIKey:         cs.cfg.DeepgramAPIKey,
		Language:       language,
		SampleRate:     audioSampleRate,
		Encoding:       audioEncoding,
		Channels:       1,
		InterimResults: true,
	}, cs.logger)

	llmClient := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey: cs.cfg.OpenAIAPIKey,
		Model:  cs.cfg.LLMModel,
	})
	cs.responder = newHistoryResponder(llmClient)
	if cs.cfg.GreetingText != "" {
		cs.responder.seed(cs.cfg.GreetingText)
	}

	ttsClient := tts.NewElevenLabsClient(tts.ElevenLabsConfig{
		APIKey:     cs.cfg.ElevenLabsAPIKey,
		Stability:  cs.cfg.TTSStability,
		Similarity: cs.cfg.TTSSimilarity,
		HTTPClient: cs.cfg.TTSHTTPClient,
	})

	engineCfg := voice.DefaultConfig()
	engineCfg.Language = language
	if cs.cfg.SilenceThresholdMs > 0 {
		engineCfg.SilenceThreshold = voice.ClampSilenceThreshold(time.Duration(cs.cfg.SilenceThresholdMs) * time.Millisecond)
	}
	if cs.cfg.PostSpeechDelayMs > 0 {
		engineCfg.PostSpeechMuteDelay = voice.ClampPostSpeechDelay(time.Duration(cs.cfg.PostSpeechDelayMs) * time.Millisecond)
	}

	var local voice.LocalSynthesizer
	if espeak := tts.NewEspeakSynthesizer(); espeak != nil {
		local = espeak
	}

	cs.session = voice.NewSession(voice.Options{
		Capture:     cs.sttEngine,
		Responder:   cs.responder,
		Synthesizer: ttsClient,
		Local:       local,
		Player:      cs,
		Gain:        cs,
		Energy:      cs,
		Observer:    cs,
		Logger:      cs.logger,
		Config:      engineCfg,
		Context: voice.TurnContext{
			Subject:    cm.Subject,
			Persona:    cm.Persona,
			Difficulty: cm.Difficulty,
			SessionID:  cs.id,
		},
		Greeting: cs.cfg.GreetingText,
		VoiceFor: tts.VoiceFor,
	})
	cs.session.SetVisualizationObserver(cs.sendVisualization)

	if cs.store != nil {
		if err := cs.store.InsertConversation(cs.ctx, store.Conversation{
			ID:         cs.id,
			Subject:    cm.Subject,
			Persona:    cm.Persona,
			Difficulty: cm.Difficulty,
			Language:   language,
			StartedAt:  time.Now().UTC(),
		}); err != nil {
			cs.logger.Printf("conversation_ws: failed to insert conversation: %v", err)
		}
	}
	cs.eventLog.LogAsync(cs.id, eventlog.EventConversationStarted, map[string]any{
		"subject": cm.Subject, "persona": cm.Persona, "difficulty": cm.Difficulty, "language": language,
	})

	if err := cs.session.Start(); err != nil {
		return err
	}

	cs.send(serverMessage{Type: "ready", ConversationID: cs.id})
	return nil
}

// handleAudio forwards one microphone frame to the capture engine and feeds
// the visualization energy window.
func (cs *convSession) handleAudio(payload string) error {
	if cs.sttEngine == nil {
		return nil
	}

	audio, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("failed to decode audio: %w", err)
	}

	cs.pushEnergy(rmsPCM16(audio))

	// Audio arriving between capture runs (mid-restart or muted) is dropped.
	_ = cs.sttEngine.StreamAudio(cs.ctx, audio)
	return nil
}

func (cs *convSession) handleConfig(cm clientMessage) {
	if cs.session == nil {
		return
	}
	if cm.SilenceMs != nil {
		cs.session.SetSilenceThreshold(time.Duration(*cm.SilenceMs) * time.Millisecond)
	}
	if cm.DelayMs != nil {
		cs.session.SetDelayAfterSpeaking(time.Duration(*cm.DelayMs) * time.Millisecond)
	}
	if cm.FeedbackPrevention != nil {
		cs.session.SetFeedbackPrevention(*cm.FeedbackPrevention)
	}
	if cm.Language != "" {
		cs.session.SetLanguage(cm.Language)
	}
}

func (cs *convSession) send(msg serverMessage) {
	cs.connMu.Lock()
	err := cs.conn.WriteJSON(msg)
	cs.connMu.Unlock()
	if err != nil {
		cs.logger.Printf("conversation_ws: write failed for %s: %v", cs.id, err)
	}
}

func (cs *convSession) sendError(kind, message string) {
	cs.send(serverMessage{Type: "error", Kind: kind, Message: message})
}

func (cs *convSession) sendVisualization(frame voice.VisualizationFrame) {
	cs.send(serverMessage{Type: "viz", Samples: frame.Samples})
}

func (cs *convSession) nextSeq() int {
	cs.seqMu.Lock()
	defer cs.seqMu.Unlock()
	cs.utteranceSeq++
	return cs.utteranceSeq
}

func (cs *convSession) persistUtterance(speaker, text string) {
	if cs.store == nil {
		return
	}
	now := time.Now().UTC()
	_ = cs.store.InsertUtterance(cs.ctx, cs.id, store.Utterance{
		Speaker:  speaker,
		Text:     text,
		Sequence: cs.nextSeq(),
		EndedAt:  &now,
	})
}

func (cs *convSession) cleanup() {
	cs.cancel()

	if cs.session != nil {
		cs.session.Dispose()
	}

	cs.playMu.Lock()
	for _, p := range cs.plays {
		p.release(context.Canceled)
	}
	cs.playMu.Unlock()

	cs.connMu.Lock()
	cs.conn.Close()
	cs.connMu.Unlock()

	if cs.store != nil && cs.session != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = cs.store.EndConversation(ctx, cs.id, time.Now().UTC())
	}
	cs.eventLog.LogAsync(cs.id, eventlog.EventConversationEnded, nil)

	cs.logger.Printf("conversation_ws: session cleaned up for %s", cs.id)
}

// rmsPCM16 computes the RMS energy of a little-endian 16-bit PCM frame,
// normalized to [0,1].
func rmsPCM16(b []byte) float64 {
	n := len(b) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(b[2*i:]))
		f := float64(v) / 32768
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}

func (cs *convSession) pushEnergy(level float64) {
	cs.energyMu.Lock()
	cs.energy = append(cs.energy, level)
	if len(cs.energy) > energyBins {
		cs.energy = cs.energy[len(cs.energy)-energyBins:]
	}
	cs.energyMu.Unlock()
}

// Frequencies implements voice.EnergySource. Returns nil until audio has
// arrived, which keeps the sampler silent.
func (cs *convSession) Frequencies() []float64 {
	cs.energyMu.Lock()
	defer cs.energyMu.Unlock()
	if len(cs.energy) == 0 {
		return nil
	}
	out := make([]float64, len(cs.energy))
	copy(out, cs.energy)
	return out
}

// RampTo implements voice.GainControl by instructing the client to ramp its
// input gain node. The exponential curve is applied client-side.
func (cs *convSession) RampTo(level float64, over time.Duration) {
	cs.send(serverMessage{Type: "gain", Level: level, RampMs: int(over.Milliseconds())})
}
