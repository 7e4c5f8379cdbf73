package matutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatMulIdentity(t *testing.T) {
	I := Eye(3)
	A := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}
	C := Mat(3, 3)
	MatMul("NN", 3, 3, 3, 1.0, A, I, 0.0, C)
	assert.Equal(t, A, C)
}

func TestMatInvRoundTrip(t *testing.T) {
	A := []float64{4, 2, 0, 2, 3, 1, 0, 1, 3}
	orig := append([]float64(nil), A...)
	require.True(t, MatInv(A, 3))

	C := Mat(3, 3)
	MatMul("NN", 3, 3, 3, 1.0, orig, A, 0.0, C)
	I := Eye(3)
	for i := range C {
		assert.InDelta(t, I[i], C[i], 1e-9)
	}
}

func TestLSQExactFit(t *testing.T) {
	// y = 2x for x in {1,2,3}; transposed design matrix A is 1x3.
	A := []float64{1, 2, 3}
	y := []float64{2, 4, 6}
	x := Mat(1, 1)
	Q := Mat(1, 1)
	require.True(t, LSQ(A, y, 1, 3, x, Q))
	assert.InDelta(t, 2.0, x[0], 1e-9)
}

func TestSolveSVDAgreesWithLSQ(t *testing.T) {
	A := []float64{1, 2, 3}
	y := []float64{2, 4, 6}
	x, _ := SolveSVD(A, y, 1, 3)
	assert.InDelta(t, 2.0, x[0], 1e-6)
}

func TestDet2ZeroOnSingular(t *testing.T) {
	singular := []float64{1, 2, 2, 4}
	assert.InDelta(t, 0.0, Det2(singular, 2), 1e-9)
}

func TestFilterUpdatesTowardMeasurement(t *testing.T) {
	x := []float64{0, 0, 0}
	P := Eye(3)
	P[0] = 1.0
	H := []float64{1, 0, 0}
	v := []float64{1.0}
	R := []float64{0.01}
	xp, Pp, ok := Filter(x, P, H, v, R, 3, 1)
	require.True(t, ok)
	assert.Greater(t, xp[0], 0.9)
	assert.Less(t, Pp[0], P[0])
}
