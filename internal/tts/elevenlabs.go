package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mkubicek/lektor/internal/voice"
)

const defaultElevenLabsURL = "https://api.elevenlabs.io/v1/text-to-speech"

// ElevenLabsClient is the tier-1 synthesizer, implementing voice.Synthesizer.
type ElevenLabsClient struct {
	apiKey     string
	modelID    string
	baseURL    string
	stability  float64
	similarity float64
	httpClient *http.Client
}

// ElevenLabsConfig holds configuration for the ElevenLabs client.
type ElevenLabsConfig struct {
	APIKey     string
	ModelID    string  // e.g. "eleven_flash_v2_5" for low latency
	Stability  float64 // -1 for default
	Similarity float64 // -1 for default
	BaseURL    string  // override for tests
	HTTPClient *http.Client
}

// NewElevenLabsClient creates a new ElevenLabs client.
func NewElevenLabsClient(cfg ElevenLabsConfig) *ElevenLabsClient {
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = "eleven_flash_v2_5"
	}
	stability := cfg.Stability
	if stability < 0 {
		stability = 0.5
	}
	similarity := cfg.Similarity
	if similarity < 0 {
		similarity = 0.75
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultElevenLabsURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &ElevenLabsClient{
		apiKey:     cfg.APIKey,
		modelID:    modelID,
		baseURL:    baseURL,
		stability:  stability,
		similarity: similarity,
		httpClient: httpClient,
	}
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize converts text to MP3 audio with the given voice.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if voiceID == "" {
		voiceID = defaultVoiceID
	}
	url := fmt.Sprintf("%s/%s?output_format=mp3_22050_32", c.baseURL, voiceID)

	req := ttsRequest{
		Text:    text,
		ModelID: c.modelID,
		VoiceSettings: voiceSettings{
			Stability:       c.stability,
			SimilarityBoost: c.similarity,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus(resp.StatusCode, string(respBody))
	}

	return io.ReadAll(resp.Body)
}

// classifyStatus maps an ElevenLabs error response onto the voice failure
// taxonomy. Quota exhaustion arrives as a 401 with a quota_exceeded status in
// the body.
func classifyStatus(status int, body string) error {
	switch {
	case strings.Contains(body, "quota_exceeded") || status == http.StatusPaymentRequired:
		return fmt.Errorf("ElevenLabs API %d: %s: %w", status, body, voice.ErrQuotaExceeded)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("ElevenLabs API %d: %s: %w", status, body, voice.ErrAuth)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("ElevenLabs API %d: %s: %w", status, body, voice.ErrRateLimited)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return fmt.Errorf("ElevenLabs API %d: %s: %w", status, body, voice.ErrValidation)
	case status >= 500:
		return fmt.Errorf("ElevenLabs API %d: %s: %w", status, body, voice.ErrUnavailable)
	}
	return fmt.Errorf("ElevenLabs API error %d: %s", status, body)
}
