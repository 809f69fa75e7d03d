package vectorstore

import (
	"fmt"
	"math"
	"sort"
)

// CosineSimilarity returns the cosine of the angle between a and b.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("cosine similarity on empty vectors")
	}
	var dot, na2, nb2 float64
	for i := range a {
		va := float64(a[i])
		vb := float64(b[i])
		dot += va * vb
		na2 += va * va
		nb2 += vb * vb
	}
	if na2 == 0 || nb2 == 0 {
		return 0, fmt.Errorf("cosine similarity with zero-magnitude vector")
	}
	return dot / (math.Sqrt(na2) * math.Sqrt(nb2)), nil
}

func L2Distance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// CosineScore converts a pgvector cosine distance (<=>) into a similarity.
func CosineScore(distance float64) float64 {
	return 1 - distance
}

// EuclideanScore converts an L2 distance (<->) into a similarity in (0, 1].
func EuclideanScore(distance float64) float64 {
	return 1 / (1 + distance)
}

// Score computes the similarity of a chunk embedding to query under metric.
func Score(metric Metric, query, embedding []float32) (float64, error) {
	switch metric {
	case MetricCosine, "":
		return CosineSimilarity(query, embedding)
	case MetricEuclidean:
		d, err := L2Distance(query, embedding)
		if err != nil {
			return 0, err
		}
		return EuclideanScore(d), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedMetric, metric)
	}
}

// Rank orders matches by descending score, then ascending chunk id, and keeps
// at most k.
func Rank(matches []Match, k int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Chunk.ID < matches[j].Chunk.ID
	})
	if k >= 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// BruteForce scores every candidate against query and returns the top k.
func BruteForce(candidates []Chunk, query []float32, k int, metric Metric) ([]Match, error) {
	matches := make([]Match, 0, len(candidates))
	for _, chunk := range candidates {
		score, err := Score(metric, query, chunk.Embedding)
		if err != nil {
			return nil, fmt.Errorf("score chunk %s: %w", chunk.ID, err)
		}
		matches = append(matches, Match{Chunk: chunk, Score: score})
	}
	return Rank(matches, k), nil
}
