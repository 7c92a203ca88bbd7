package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/chaz8081/gostt-scribe/internal/audio"
)

// Instruction is sent ahead of the audio in every request.
const Instruction = "Transcribe this audio recording clearly and accurately."

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

var (
	// ErrMissingCredential is returned when no API key is supplied.
	ErrMissingCredential = errors.New("transcribe: API key not set")
	// ErrEmptyResponse is reported when the model answers without any text.
	ErrEmptyResponse = errors.New("model returned no text")
)

// contentGenerator is the subset of the Gemini models service used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig configures a GeminiTranscriber.
type GeminiConfig struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint; empty uses the SDK default.
	BaseURL string
}

// GeminiTranscriber transcribes recordings with a Gemini model. It holds
// one long-lived client and is safe for concurrent use.
type GeminiTranscriber struct {
	models contentGenerator
	model  string
}

// NewGeminiTranscriber builds the API client. A missing API key is a
// configuration error and no client is created.
func NewGeminiTranscriber(ctx context.Context, cfg GeminiConfig) (*GeminiTranscriber, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingCredential
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("transcribe: create gemini client: %w", err)
	}

	return newGeminiTranscriber(client.Models, cfg.Model), nil
}

func newGeminiTranscriber(models contentGenerator, model string) *GeminiTranscriber {
	if model == "" {
		model = DefaultModel
	}
	return &GeminiTranscriber{models: models, model: model}
}

// Model returns the model identifier requests are sent to.
func (t *GeminiTranscriber) Model() string {
	return t.model
}

// Transcribe issues exactly one request for the payload. The response text
// is returned verbatim.
func (t *GeminiTranscriber) Transcribe(ctx context.Context, payload audio.Payload) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("transcription panicked", "panic", r)
			res = failure(fmt.Errorf("%v", r))
		}
	}()

	data, err := encodeWAV(payload)
	if err != nil {
		return failure(err)
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(Instruction),
			genai.NewPartFromBytes(data, wavMIMEType),
		}, genai.RoleUser),
	}

	start := time.Now()
	resp, err := t.models.GenerateContent(ctx, t.model, contents, nil)
	if err != nil {
		slog.Error("transcribing audio", "model", t.model, "error", err)
		return failure(err)
	}

	if resp == nil {
		return failure(ErrEmptyResponse)
	}
	text := resp.Text()
	if text == "" {
		return failure(ErrEmptyResponse)
	}

	slog.Debug("transcription complete", "model", t.model, "audio", payload.Duration(), "elapsed", time.Since(start).Round(time.Millisecond))
	return Result{Text: text}
}
