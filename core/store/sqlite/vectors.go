package sqlite

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/koscakluka/ema-persona/core/conversations"
	"github.com/koscakluka/ema-persona/core/embedding"
	"github.com/koscakluka/ema-persona/core/retrieval"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ErrNoEmbedder = errors.New("no embedder configured")

// VectorIndex is a brute force cosine similarity index over the embeddings
// table. It is meant for the document counts of a single company.
type VectorIndex struct {
	store    *Store
	embedder embedding.Embedder
}

func (s *Store) VectorIndex(embedder embedding.Embedder) *VectorIndex {
	return &VectorIndex{store: s, embedder: embedder}
}

// Upsert embeds text and stores it under id within scope.
func (v *VectorIndex) Upsert(ctx context.Context, scope conversations.Scope, id string, text string, metadata map[string]any) error {
	ctx, span := tracer.Start(ctx, "upsert embedding")
	defer span.End()

	if v.embedder == nil {
		return ErrNoEmbedder
	}

	vector, err := v.embedder.EmbedDocument(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to embed document: %w", err)
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if _, err := v.store.db.ExecContext(ctx, `
		INSERT INTO embeddings (scope, id, text, metadata_json, vector, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, id) DO UPDATE SET
			text = excluded.text, metadata_json = excluded.metadata_json,
			vector = excluded.vector, updated_at = excluded.updated_at`,
		scope.String(), id, text, string(metadataJSON), encodeVector(vector), now(),
	); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}

// Query returns the topK entries of scope most similar to text, best first.
func (v *VectorIndex) Query(ctx context.Context, scope conversations.Scope, text string, topK int) ([]retrieval.Hit, error) {
	ctx, span := tracer.Start(ctx, "query embeddings")
	defer span.End()
	span.SetAttributes(attribute.String("retrieval.scope", scope.String()), attribute.Int("retrieval.top_k", topK))

	if v.embedder == nil {
		return nil, ErrNoEmbedder
	}

	query, err := v.embedder.EmbedQuery(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	rows, err := v.store.db.QueryContext(ctx, `SELECT text, metadata_json, vector FROM embeddings WHERE scope = ?`, scope.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	hits := []retrieval.Hit{}
	for rows.Next() {
		var (
			hit          retrieval.Hit
			metadataJSON string
			blob         []byte
		)
		if err := rows.Scan(&hit.Text, &metadataJSON, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		if err := json.Unmarshal([]byte(metadataJSON), &hit.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		hit.Score = embedding.CosineSimilarity(query, decodeVector(blob))
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	span.SetAttributes(attribute.Int("retrieval.hits", len(hits)))
	return hits, nil
}

func encodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, f := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vector := make([]float32, len(buf)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vector
}
