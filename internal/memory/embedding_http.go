package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPEmbeddingProvider calls an OpenAI-compatible /embeddings endpoint
// (e.g. a local LM Studio or Ollama server). Its Dimensions value updates to
// whatever the server returns on the first successful call.
type HTTPEmbeddingProvider struct {
	baseURL    string
	model      string
	client     *http.Client
	dimensions int
}

// NewHTTPEmbeddingProvider creates a provider bound to baseURL/embeddings.
func NewHTTPEmbeddingProvider(baseURL, model string) *HTTPEmbeddingProvider {
	return &HTTPEmbeddingProvider{
		baseURL:    baseURL,
		model:      model,
		client:     &http.Client{Timeout: 30 * time.Second},
		dimensions: 384,
	}
}

type embeddingAPIRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embeddingAPIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (h *HTTPEmbeddingProvider) Embed(text string) ([]float32, error) {
	body, err := json.Marshal(embeddingAPIRequest{Input: text, Model: h.model})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	resp, err := h.client.Post(h.baseURL+"/embeddings", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("call embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding api error: %s - %s", resp.Status, string(respBody))
	}

	var parsed embeddingAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	embedding := parsed.Data[0].Embedding
	h.dimensions = len(embedding)
	return embedding, nil
}

func (h *HTTPEmbeddingProvider) EmbedBatch(texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := h.Embed(text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		results[i] = emb
	}
	return results, nil
}

func (h *HTTPEmbeddingProvider) Dimensions() int {
	return h.dimensions
}
