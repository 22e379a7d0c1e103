package tts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mkubicek/lektor/internal/voice"
)

func TestSynthesizeSuccess(t *testing.T) {
	audio := []byte("fake mp3 bytes, long enough to be plausible in real use")
	var gotPath string
	var gotReq ttsRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Header.Get("xi-api-key") != "secret" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write(audio)
	}))
	defer srv.Close()

	client := NewElevenLabsClient(ElevenLabsConfig{
		APIKey:     "secret",
		BaseURL:    srv.URL,
		Stability:  -1,
		Similarity: -1,
	})

	got, err := client.Synthesize(context.Background(), "hello student", "voice123")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(got) != string(audio) {
		t.Errorf("audio mismatch")
	}
	if !strings.HasSuffix(gotPath, "/voice123") {
		t.Errorf("request path = %q, want voice ID segment", gotPath)
	}
	if gotReq.Text != "hello student" {
		t.Errorf("request text = %q", gotReq.Text)
	}
	if gotReq.ModelID != "eleven_flash_v2_5" {
		t.Errorf("model_id = %q, want low-latency default", gotReq.ModelID)
	}
	// -1 sentinels resolve to the service defaults.
	if gotReq.VoiceSettings.Stability != 0.5 || gotReq.VoiceSettings.SimilarityBoost != 0.75 {
		t.Errorf("voice settings = %+v, want defaults", gotReq.VoiceSettings)
	}
}

func TestSynthesizeUsesDefaultVoiceWhenEmpty(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte("audio"))
	}))
	defer srv.Close()

	client := NewElevenLabsClient(ElevenLabsConfig{APIKey: "k", BaseURL: srv.URL})
	if _, err := client.Synthesize(context.Background(), "text", ""); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !strings.HasSuffix(gotPath, "/"+defaultVoiceID) {
		t.Errorf("path = %q, want default voice", gotPath)
	}
}

func TestSynthesizeStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"quota in body on 401", http.StatusUnauthorized, `{"detail":{"status":"quota_exceeded"}}`, voice.ErrQuotaExceeded},
		{"payment required", http.StatusPaymentRequired, "", voice.ErrQuotaExceeded},
		{"unauthorized", http.StatusUnauthorized, "bad key", voice.ErrAuth},
		{"forbidden", http.StatusForbidden, "", voice.ErrAuth},
		{"rate limited", http.StatusTooManyRequests, "", voice.ErrRateLimited},
		{"bad request", http.StatusBadRequest, "", voice.ErrValidation},
		{"unprocessable", http.StatusUnprocessableEntity, "", voice.ErrValidation},
		{"server error", http.StatusServiceUnavailable, "", voice.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewElevenLabsClient(ElevenLabsConfig{APIKey: "k", BaseURL: srv.URL})
			_, err := client.Synthesize(context.Background(), "text", "v")
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want wrapped %v", err, tt.want)
			}
		})
	}
}

func TestVoiceFor(t *testing.T) {
	if got := VoiceFor("unknown persona"); got != defaultVoiceID {
		t.Errorf("VoiceFor fallback = %q, want default voice", got)
	}
	for persona, want := range personaVoices {
		if got := VoiceFor(persona); got != want {
			t.Errorf("VoiceFor(%q) = %q, want %q", persona, got, want)
		}
	}
}
