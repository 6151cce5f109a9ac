package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"
)

// Synthesizer turns one text chunk into PCM samples. Implementations return
// mono float32 samples in [-1, 1] and the sample rate they were rendered at.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceRef string) ([]float32, int, error)
}

// HTTPSynthesizer calls a speech server that accepts a JSON request and
// streams back raw little-endian float32 PCM. A mutex serializes requests:
// the backend renders one utterance at a time and interleaved calls make it
// thrash.
type HTTPSynthesizer struct {
	mu         sync.Mutex
	baseURL    string
	sampleRate int
	httpClient *http.Client
}

type synthRequest struct {
	Text     string `json:"text"`
	VoiceRef string `json:"voice_ref,omitempty"`
}

// NewHTTPSynthesizer creates a synthesizer client for the server at baseURL
// rendering at sampleRate.
func NewHTTPSynthesizer(baseURL string, sampleRate int) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		baseURL:    baseURL,
		sampleRate: sampleRate,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Synthesize renders one chunk of text with the given voice reference.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text, voiceRef string) ([]float32, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := json.Marshal(synthRequest{Text: text, VoiceRef: voiceRef})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, fmt.Errorf("synthesis server error %d: %s", resp.StatusCode, string(msg))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read synthesis response: %w", err)
	}
	samples, err := decodePCM(raw)
	if err != nil {
		return nil, 0, err
	}
	return samples, s.sampleRate, nil
}

// decodePCM parses raw little-endian float32 PCM.
func decodePCM(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("PCM payload of %d bytes is not float32-aligned", len(raw))
	}
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples, nil
}
