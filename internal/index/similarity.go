package index

import (
	"math"
	"sort"

	"github.com/lewisedginton/memory_vault/internal/engine"
)

// CosineSimilarity computes cosine similarity between two vectors:
// dot(a,b) / (|a| * |b|). Defined as 0 when either vector has zero magnitude
// or the lengths differ; never NaN.
func CosineSimilarity(a, b []float32) float64 {
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

// rankRows scores rows against the query, filters by minScore, sorts
// descending by score and truncates to limit. Ties keep the rows' incoming
// order (stable sort), which callers rely on for deterministic results.
func rankRows(rows []engine.EmbeddingRow, query []float32, limit int, minScore float64) []engine.ScoredID {
	scored := make([]engine.ScoredID, 0, len(rows))
	for _, row := range rows {
		score := CosineSimilarity(row.Embedding, query)
		if score >= minScore {
			scored = append(scored, engine.ScoredID{MemoryID: row.MemoryID, Score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
