package simd

import (
	"math"
	"testing"
)

func TestVecAdd(t *testing.T) {
	dst := []float64{1, 2, 3, 4, 5}
	src := []float64{10, 20, 30, 40, 50}
	expected := []float64{11, 22, 33, 44, 55}

	VecAdd(dst, src)

	for i, v := range dst {
		if v != expected[i] {
			t.Errorf("VecAdd(%d) = %f, want %f", i, v, expected[i])
		}
	}
}

func TestVecAddScaled(t *testing.T) {
	dst := []float64{1, 2, 3, 4, 5}
	src := []float64{10, 20, 30, 40, 50}
	expected := []float64{6, 12, 18, 24, 30}

	VecAddScaled(dst, src, 0.5)

	for i, v := range dst {
		if v != expected[i] {
			t.Errorf("VecAddScaled(%d) = %f, want %f", i, v, expected[i])
		}
	}
}

func TestVecMul(t *testing.T) {
	dst := make([]float64, 5)
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{2, 2, 2, 2, 2}

	VecMul(dst, a, b)

	for i, v := range dst {
		if v != a[i]*2 {
			t.Errorf("VecMul(%d) = %f, want %f", i, v, a[i]*2)
		}
	}
}

func TestDotProduct(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{2, 3, 4, 5, 6}
	// 2 + 6 + 12 + 20 + 30 = 70
	if got := DotProduct(a, b); got != 70.0 {
		t.Errorf("DotProduct = %f, want 70", got)
	}
}

func TestDotProductFloat32(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}
	if got := DotProduct(a, b); got != 32.0 {
		t.Errorf("DotProduct = %f, want 32", got)
	}
}

func TestMatVecMul(t *testing.T) {
	// 2x3 matrix times length-3 vector
	mat := []float64{
		1, 2, 3,
		4, 5, 6,
	}
	vec := []float64{1, 1, 2}
	dst := make([]float64, 2)

	MatVecMul(dst, mat, vec, 2, 3)

	expected := []float64{9, 21}
	for i, v := range dst {
		if math.Abs(v-expected[i]) > 1e-12 {
			t.Errorf("MatVecMul(%d) = %f, want %f", i, v, expected[i])
		}
	}
}

func TestMatTVecMul(t *testing.T) {
	// matT * vec: 2x3 matrix, vec length 2, result length 3
	mat := []float64{
		1, 2, 3,
		4, 5, 6,
	}
	vec := []float64{1, 2}
	dst := make([]float64, 3)

	MatTVecMul(dst, mat, vec, 2, 3)

	expected := []float64{9, 12, 15}
	for i, v := range dst {
		if math.Abs(v-expected[i]) > 1e-12 {
			t.Errorf("MatTVecMul(%d) = %f, want %f", i, v, expected[i])
		}
	}
}

func TestRowSums(t *testing.T) {
	mat := []float64{
		1, 2, 3,
		4, 5, 6,
	}
	dst := make([]float64, 2)
	RowSums(dst, mat, 2, 3)
	if dst[0] != 6 || dst[1] != 15 {
		t.Errorf("RowSums = %v, want [6 15]", dst)
	}
}

func TestMax(t *testing.T) {
	if got := Max([]float64{0.25, 3, -1, 2}); got != 3 {
		t.Errorf("Max = %f, want 3", got)
	}
}
