package memory

import (
	"crypto/sha512"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/agentfleet/core/internal/errs"
)

// encodeEmbedding converts a []float32 to a little-endian binary blob.
func encodeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, val := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(val))
	}
	return buf
}

// decodeEmbedding converts a little-endian binary blob back to []float32.
func decodeEmbedding(blob []byte) []float32 {
	if len(blob)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(blob)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return embedding
}

const embeddingDimensions = 384

// FallbackEmbeddingProvider produces a deterministic 384-dimensional vector
// from the SHA-512 of the input text when no external embedding model is
// configured. SHA-512 yields only 64 raw bytes, so the digest is recomputed
// over successive counters (0, 1, 2, ...) prefixed to the text until the
// 384-byte buffer is filled; each byte is then mapped to byte/255.0.
type FallbackEmbeddingProvider struct{}

func NewFallbackEmbeddingProvider() *FallbackEmbeddingProvider {
	return &FallbackEmbeddingProvider{}
}

func (f *FallbackEmbeddingProvider) Embed(text string) ([]float32, error) {
	buf := make([]byte, 0, embeddingDimensions)
	for counter := 0; len(buf) < embeddingDimensions; counter++ {
		h := sha512.Sum512([]byte(strconv.Itoa(counter) + text))
		buf = append(buf, h[:]...)
	}
	buf = buf[:embeddingDimensions]

	vec := make([]float32, embeddingDimensions)
	for i, b := range buf {
		vec[i] = float32(b) / 255.0
	}
	return vec, nil
}

func (f *FallbackEmbeddingProvider) EmbedBatch(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *FallbackEmbeddingProvider) Dimensions() int {
	return embeddingDimensions
}

// ChunkText splits text into chunks of at most maxLen bytes, preferring to
// break on whitespace. Used to bound what gets embedded for long episode
// payloads and concept definitions.
func ChunkText(text string, maxLen int) []string {
	if maxLen <= 0 || len(text) <= maxLen {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	for len(text) > maxLen {
		cut := maxLen
		if idx := strings.LastIndexAny(text[:maxLen], " \t\n"); idx > 0 {
			cut = idx
		}
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// embedFirstChunk returns the encoded embedding of the leading chunk of
// text, or nil if the provider fails. Indexing is best-effort; retrieval
// falls back to substring matching for rows without an embedding.
func (s *SQLiteMemoryDB) embedFirstChunk(text string) []byte {
	chunks := ChunkText(text, 2000)
	if len(chunks) == 0 {
		return nil
	}
	vec, err := s.provider().Embed(chunks[0])
	if err != nil {
		return nil
	}
	return encodeEmbedding(vec)
}

func (s *SQLiteMemoryDB) provider() EmbeddingProvider {
	if s.embeddingProvider != nil {
		return s.embeddingProvider
	}
	return NewFallbackEmbeddingProvider()
}

// cosineSimilarity computes cosine similarity between two embeddings of
// equal length.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// candidateContent is one item scanned for retrieval, spanning any memory
// class. content is used for the keyword-substring fallback.
type candidateContent struct {
	class   string
	id      int64
	content string
}

// RetrieveMemories embeds query, scores every stored item across all memory
// classes by cosine similarity against its stored embedding (if any),
// falling back to a 1.0/0.0 substring-match score for items without one,
// and returns the top `limit` sorted descending.
func (s *SQLiteMemoryDB) RetrieveMemories(query string, limit int) ([]ScoredItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queryVec, err := s.provider().Embed(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrProviderFailure, err)
	}
	lowerQuery := strings.ToLower(query)

	var candidates []candidateContent

	rows, err := s.db.Query(`SELECT e.id, e.name, GROUP_CONCAT(o.content, ' ') FROM entities e LEFT JOIN observations o ON o.entity_id = e.id GROUP BY e.id`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	for rows.Next() {
		var id int64
		var name string
		var obs sql.NullString
		if err := rows.Scan(&id, &name, &obs); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		candidates = append(candidates, candidateContent{class: "entity", id: id, content: name + " " + obs.String})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}

	if err := s.collectCandidates("working_memory", "content", &candidates); err != nil {
		return nil, err
	}
	if err := s.collectCandidates("episodic_memory", "episode_data", &candidates); err != nil {
		return nil, err
	}
	if err := s.collectCandidates("semantic_memory", "definition", &candidates); err != nil {
		return nil, err
	}
	if err := s.collectCandidates("procedural_memory", "skill_name", &candidates); err != nil {
		return nil, err
	}

	scored := make([]ScoredItem, 0, len(candidates))
	for _, c := range candidates {
		var similarity float64
		embedding, err := s.loadEmbedding(c.class, c.id)
		if err == nil && embedding != nil {
			similarity = cosineSimilarity(queryVec, embedding)
		} else if strings.Contains(strings.ToLower(c.content), lowerQuery) {
			similarity = 1.0
		} else {
			similarity = 0.0
		}
		scored = append(scored, ScoredItem{Class: c.class, ID: c.id, Content: c.content, Similarity: similarity})
	}

	for i := 0; i < len(scored); i++ {
		best := i
		for j := i + 1; j < len(scored); j++ {
			if scored[j].Similarity > scored[best].Similarity {
				best = j
			}
		}
		scored[i], scored[best] = scored[best], scored[i]
	}

	if limit > 0 && limit < len(scored) {
		scored = scored[:limit]
	}
	return scored, nil
}

func (s *SQLiteMemoryDB) collectCandidates(table, contentCol string, out *[]candidateContent) error {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT id, %s FROM %s`, contentCol, table))
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var content string
		if err := rows.Scan(&id, &content); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrStorage, err)
		}
		*out = append(*out, candidateContent{class: strings.TrimSuffix(table, "_memory"), id: id, content: content})
	}
	return rows.Err()
}

func (s *SQLiteMemoryDB) loadEmbedding(class string, id int64) ([]float32, error) {
	table := class + "_memory"
	if class == "entity" {
		return nil, nil
	}
	var blob []byte
	err := s.db.QueryRow(fmt.Sprintf(`SELECT embedding FROM %s WHERE id = ?`, table), id).Scan(&blob)
	if err != nil || len(blob) == 0 {
		return nil, nil
	}
	return decodeEmbedding(blob), nil
}
