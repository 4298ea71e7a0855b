package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/naipunyaailabs/sts/internal/audio"
)

// TranslationPrompt instructs the chat model to act as a plain EN->RU translator.
const TranslationPrompt = "You are a professional English to Russian translator. " +
	"Translate the user's text into natural spoken Russian. " +
	"Reply with the translation only, without quotes, notes or transliteration."

// OpenAIConfig configures the OpenAI-compatible engines
type OpenAIConfig struct {
	APIKey           string
	BaseURL          string // optional; for self-hosted compatible servers
	STTModel         string
	TranslationModel string
	TTSModel         string
	TTSVoice         string
	TTSSampleRate    int // rate of the raw PCM the speech endpoint returns
	HTTPClient       *http.Client
}

// OpenAI implements transcription, translation and speech synthesis on top of
// an OpenAI-compatible API.
type OpenAI struct {
	client *openai.Client
	config OpenAIConfig
}

// NewOpenAI creates the OpenAI-compatible engine set
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("missing API key")
	}
	if cfg.TTSSampleRate <= 0 {
		cfg.TTSSampleRate = 24000
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	} else {
		config.HTTPClient = &http.Client{Timeout: 90 * time.Second}
	}

	return &OpenAI{client: openai.NewClientWithConfig(config), config: cfg}, nil
}

// Transcribe sends samples to the transcription endpoint as an in-memory WAV file
func (o *OpenAI) Transcribe(ctx context.Context, samples []int16, sampleRate int) (string, error) {
	wav, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		return "", fmt.Errorf("failed to encode audio: %w", err)
	}

	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.config.STTModel,
		FilePath: "chunk.wav",
		Reader:   bytes.NewReader(wav),
		Language: "en",
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", err
	}

	return resp.Text, nil
}

// Translate asks the chat model for a Russian translation of text
func (o *OpenAI) Translate(ctx context.Context, text string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.config.TranslationModel,
		Temperature: math.SmallestNonzeroFloat32, // a plain 0 is dropped by omitempty
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: TranslationPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	return strings.Trim(strings.TrimSpace(resp.Choices[0].Message.Content), `"«»`), nil
}

// Synthesize requests raw 16-bit PCM speech for text
func (o *OpenAI) Synthesize(ctx context.Context, text string) ([]int16, int, error) {
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.config.TTSModel),
		Input:          text,
		Voice:          openai.SpeechVoice(o.config.TTSVoice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return nil, 0, err
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read speech audio: %w", err)
	}

	return audio.BytesToSamples(data), o.config.TTSSampleRate, nil
}

// Probe verifies that the endpoint answers and serves the configured models
func (o *OpenAI) Probe(ctx context.Context) error {
	list, err := o.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}

	available := make(map[string]bool, len(list.Models))
	for _, m := range list.Models {
		available[m.ID] = true
	}

	for _, name := range []string{o.config.STTModel, o.config.TranslationModel, o.config.TTSModel} {
		if name != "" && !available[name] {
			return fmt.Errorf("model %q not served by endpoint", name)
		}
	}

	return nil
}
