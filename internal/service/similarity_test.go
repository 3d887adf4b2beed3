package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity_Identity(t *testing.T) {
	v := []float32{0.3, -1.2, 4.5, 0.01}

	assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarity_ZeroVector(t *testing.T) {
	v := []float32{1, 2, 3}
	zero := []float32{0, 0, 0}

	assert.Equal(t, 0.0, CosineSimilarity(v, zero))
	assert.Equal(t, 0.0, CosineSimilarity(zero, v))
	assert.Equal(t, 0.0, CosineSimilarity(zero, zero))
}

func TestCosineSimilarity_Symmetric(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{-2, 0.5, 7}

	assert.Equal(t, CosineSimilarity(a, b), CosineSimilarity(b, a))
}

func TestCosineSimilarity_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 2}, []float32{-1, -2}, -1},
		{"scaled", []float32{1, 2}, []float32{10, 20}, 1},
		{"45 degrees", []float32{1, 0}, []float32{1, 1}, 0.7071067811865475},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestCosineSimilarity_Mismatched(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
}

func TestCosineSimilarity_Bounded(t *testing.T) {
	a := []float32{1e-20, 3e30, -7}
	b := []float32{1e-20, 3e30, -7}

	sim := CosineSimilarity(a, b)
	assert.LessOrEqual(t, sim, 1.0)
	assert.GreaterOrEqual(t, sim, -1.0)
}
