package embedding

import (
	"math"
	"testing"
)

func TestCosineSimilarity_Identical(t *testing.T) {
	v := []float32{0.5, 0.2, 0.8}
	if got := CosineSimilarity(v, v); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("identical vectors should score 1.0, got %v", got)
	}
}

func TestCosineSimilarity_Orthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	if got := CosineSimilarity(a, b); math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal vectors should score 0, got %v", got)
	}
}

func TestCosineSimilarity_MismatchedLengths(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 2}, []float32{1}); got != 0 {
		t.Errorf("mismatched lengths should score 0, got %v", got)
	}
}

func TestCosineSimilarity_ZeroVector(t *testing.T) {
	if got := CosineSimilarity([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Errorf("zero vector should score 0, got %v", got)
	}
}

func TestCosineDistance(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{1, 0}
	if got := CosineDistance(a, b); math.Abs(got) > 1e-9 {
		t.Errorf("identical vectors should have distance 0, got %v", got)
	}
	c := []float32{0, 1}
	if got := CosineDistance(a, c); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("orthogonal vectors should have distance 1, got %v", got)
	}
}
