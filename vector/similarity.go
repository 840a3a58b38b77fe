package vector

import (
	"fmt"
	"math"
)

// Metric selects the similarity function used for search.
type Metric int

const (
	MetricCosine Metric = iota
	MetricEuclidean
	MetricDot
)

var metricNames = map[Metric]string{
	MetricCosine:    "cosine",
	MetricEuclidean: "euclidean",
	MetricDot:       "dot",
}

var metricValues = map[string]Metric{
	"cosine":    MetricCosine,
	"euclidean": MetricEuclidean,
	"dot":       MetricDot,
}

func (m Metric) String() string {
	if name, ok := metricNames[m]; ok {
		return name
	}
	return "unknown"
}

func ParseMetric(s string) (Metric, bool) {
	m, ok := metricValues[s]
	return m, ok
}

// SimilarityFunc scores two equal-length vectors. Higher is more similar.
type SimilarityFunc func(a, b []float64) float64

// Provider returns the similarity function for the given metric.
func Provider(m Metric) (SimilarityFunc, error) {
	switch m {
	case MetricCosine:
		return CosineSimilarity, nil
	case MetricEuclidean:
		return EuclideanSimilarity, nil
	case MetricDot:
		return DotProduct, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %d", m)
	}
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns 0 when either vector has zero norm.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// EuclideanSimilarity maps Euclidean distance into (0, 1], strictly
// decreasing in distance: 1 / (1 + distance).
func EuclideanSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}

	return 1 / (1 + math.Sqrt(sum))
}

// DotProduct is the raw, unbounded dot product.
func DotProduct(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}
