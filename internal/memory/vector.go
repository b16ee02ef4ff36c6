package memory

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/pkg/logger"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// MaxChunksPerUser is the semantic memory ceiling; oldest chunks are evicted.
const MaxChunksPerUser = 500

// Embedder turns text into a vector plus the model name that produced it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, string, error)
}

// OpenAIEmbedder produces embeddings via the OpenAI API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder creates the embedder.
func NewOpenAIEmbedder(client *openai.Client) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: client, model: openai.SmallEmbedding3}
}

// Embed generates one embedding.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, string, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, "", fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, "", fmt.Errorf("no embedding data returned")
	}
	return resp.Data[0].Embedding, string(e.model), nil
}

// HashEmbedder is the offline fallback when no API key is configured.
// Lower quality than a real model but deterministic and dependency-free.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates the fallback embedder.
func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{dims: 256}
}

// Embed produces a bag-of-trigrams hash vector.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, string, error) {
	vec := make([]float32, e.dims)
	for i := 0; i+3 <= len(text); i++ {
		sum := sha256.Sum256([]byte(text[i : i+3]))
		idx := int(binary.LittleEndian.Uint32(sum[:4])) % e.dims
		if idx < 0 {
			idx += e.dims
		}
		vec[idx]++
	}
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(float64(norm)))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, "hash-trigram-256", nil
}

// VectorRepository stores and recalls semantic memory chunks
type VectorRepository struct {
	db       *database.DB
	embedder Embedder
}

// NewVectorRepository creates the repository
func NewVectorRepository(db *database.DB, embedder Embedder) *VectorRepository {
	return &VectorRepository{db: db, embedder: embedder}
}

// Store embeds and saves a chunk, evicting the oldest rows past the ceiling.
func (r *VectorRepository) Store(ctx context.Context, userID, source, text string) error {
	embedding, model, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed chunk: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memory_chunks (user_id, source, text, embedding, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, userID, source, text, encodeVector(embedding), model, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to insert memory chunk: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM memory_chunks
		WHERE user_id = ?
		  AND id NOT IN (
			SELECT id FROM memory_chunks
			WHERE user_id = ?
			ORDER BY id DESC
			LIMIT ?
		  )
	`, userID, userID, MaxChunksPerUser); err != nil {
		return fmt.Errorf("failed to evict old chunks: %w", err)
	}

	return tx.Commit()
}

type scoredChunk struct {
	chunk models.MemoryChunk
	score float64
}

// Recall returns the topK chunks most similar to the query, best first.
// Similarity is computed in memory over the user's stored vectors.
func (r *VectorRepository) Recall(ctx context.Context, userID, query string, topK int) ([]models.MemoryChunk, error) {
	if topK <= 0 {
		topK = 5
	}

	queryVec, _, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	rows, err := r.db.DB().QueryxContext(ctx, `
		SELECT id, user_id, source, text, embedding, model, created_at
		FROM memory_chunks
		WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	defer rows.Close()

	var scored []scoredChunk
	for rows.Next() {
		var (
			chunk models.MemoryChunk
			blob  []byte
		)
		if err := rows.Scan(&chunk.ID, &chunk.UserID, &chunk.Source, &chunk.Text, &blob, &chunk.Model, &chunk.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunk.Embedding = decodeVector(blob)
		scored = append(scored, scoredChunk{chunk: chunk, score: cosineSimilarity(queryVec, chunk.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chunk iteration failed: %w", err)
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > topK {
		scored = scored[:topK]
	}

	result := make([]models.MemoryChunk, len(scored))
	for i, s := range scored {
		result[i] = s.chunk
	}

	logger.Debug("semantic recall",
		zap.String("user_id", userID),
		zap.Int("returned", len(result)),
	)

	return result, nil
}

// PruneOlderThan removes chunks past the retention horizon.
func (r *VectorRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.DB().ExecContext(ctx, `
		DELETE FROM memory_chunks WHERE created_at < ?
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune memory chunks: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// cosineSimilarity calculates cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float32
	for i := 0; i < len(a); i++ {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return float64(dotProduct) / (math.Sqrt(float64(normA)) * math.Sqrt(float64(normB)))
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
