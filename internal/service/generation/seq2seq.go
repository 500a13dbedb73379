package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxResponseBytes = 1 << 20

// Seq2SeqBackend talks to a local inference server that keeps one
// encoder-decoder checkpoint (T5, FLAN-T5) and its tokenizer loaded.
// Tokenization, beam search and decoding all happen server side.
type Seq2SeqBackend struct {
	name      string
	model     string
	serverURL string
	client    *http.Client
}

// NewSeq2SeqBackend creates a backend for the server at serverURL that is
// expected to serve the checkpoint at modelPath. An empty modelPath skips the
// checkpoint check in Verify.
func NewSeq2SeqBackend(name, modelPath, serverURL string, client *http.Client) *Seq2SeqBackend {
	if client == nil {
		client = &http.Client{}
	}
	return &Seq2SeqBackend{
		name:      name,
		model:     modelPath,
		serverURL: strings.TrimRight(serverURL, "/"),
		client:    client,
	}
}

// Name returns the model name the backend was registered with.
func (b *Seq2SeqBackend) Name() string {
	return b.name
}

// Model returns the local checkpoint path the server should have loaded.
func (b *Seq2SeqBackend) Model() string {
	return b.model
}

type generateRequest struct {
	Inputs     string `json:"inputs"`
	Parameters Params `json:"parameters"`
}

type generatedText struct {
	GeneratedText string `json:"generated_text"`
}

// Generate runs one text2text generation.
func (b *Seq2SeqBackend) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	body, err := json.Marshal(generateRequest{Inputs: prompt, Parameters: params})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.serverURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	data, err := b.do(req)
	if err != nil {
		return "", err
	}

	text, err := decodeGenerated(data)
	if err != nil {
		return "", err
	}

	// an empty decode is still a result
	return strings.TrimSpace(text), nil
}

// Info asks the server which model it serves and on which device.
func (b *Seq2SeqBackend) Info(ctx context.Context) (Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.serverURL+"/info", nil)
	if err != nil {
		return Info{}, err
	}

	data, err := b.do(req)
	if err != nil {
		return Info{}, err
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("failed to decode server info: %w", err)
	}
	return info, nil
}

// Close is a no-op; the server owns the model.
func (b *Seq2SeqBackend) Close() error {
	return nil
}

func (b *Seq2SeqBackend) do(req *http.Request) ([]byte, error) {
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var failure struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &failure) == nil && failure.Error != "" {
			return nil, fmt.Errorf("inference server returned %d: %s", resp.StatusCode, failure.Error)
		}
		return nil, fmt.Errorf("inference server returned %d", resp.StatusCode)
	}
	return data, nil
}

// decodeGenerated accepts both the list and the single object response shape.
// Only a list without entries is malformed.
func decodeGenerated(data []byte) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []generatedText
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return "", fmt.Errorf("failed to decode generation: %w", err)
		}
		if len(list) == 0 {
			return "", ErrEmptyOutput
		}
		return list[0].GeneratedText, nil
	}

	var single generatedText
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return "", fmt.Errorf("failed to decode generation: %w", err)
	}
	return single.GeneratedText, nil
}
