// Package matutil provides the small set of dense linear-algebra routines the
// time-base Kalman filter and the multilateration solver need: matrix
// allocation, multiplication, LU-based inversion, least squares, and
// a Kalman measurement update. Matrices are stored column-major (Fortran
// convention), matching the teacher's convention so the iteration code below
// reads the same way.
//
// Where the normal-equations path is numerically unsafe (near-singular A'A),
// callers fall back to gonum's SVD-based solve rather than attempting a
// direct inverse; see SolveSVD.
package matutil

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Mat allocates an n*m column-major matrix, zero-filled.
func Mat(n, m int) []float64 {
	if n <= 0 || m <= 0 {
		return nil
	}
	return make([]float64, n*m)
}

// Eye returns the n x n identity matrix.
func Eye(n int) []float64 {
	p := Mat(n, n)
	for i := 0; i < n; i++ {
		p[i+i*n] = 1.0
	}
	return p
}

// Dot is the inner product of a and b, both length n.
func Dot(a, b []float64, n int) float64 {
	c := 0.0
	for i := 0; i < n; i++ {
		c += a[i] * b[i]
	}
	return c
}

// Norm is the Euclidean norm of a (length n).
func Norm(a []float64, n int) float64 {
	return math.Sqrt(Dot(a, a, n))
}

// MatCpy copies B into A; both must be length n*m.
func MatCpy(A, B []float64, n, m int) {
	copy(A, B)
}

// MatMul computes C = alpha*op(A)*op(B) + beta*C, where tr selects the
// transpose of A and B respectively ("N" or "T" per character). A is n x m
// (or m x n if transposed), B is m x k (or k x m), C is n x k.
func MatMul(tr string, n, k, m int, alpha float64, A, B []float64, beta float64, C []float64) {
	var f int
	switch {
	case tr[0] == 'N' && tr[1] == 'N':
		f = 1
	case tr[0] == 'N' && tr[1] == 'T':
		f = 2
	case tr[0] == 'T' && tr[1] == 'N':
		f = 3
	default:
		f = 4
	}
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			d := 0.0
			switch f {
			case 1:
				for x := 0; x < m; x++ {
					d += A[i+x*n] * B[x+j*m]
				}
			case 2:
				for x := 0; x < m; x++ {
					d += A[i+x*n] * B[j+x*k]
				}
			case 3:
				for x := 0; x < m; x++ {
					d += A[x+i*m] * B[x+j*m]
				}
			case 4:
				for x := 0; x < m; x++ {
					d += A[x+i*m] * B[j+x*k]
				}
			}
			if beta == 0.0 {
				C[i+j*n] = alpha * d
			} else {
				C[i+j*n] = alpha*d + beta*C[i+j*n]
			}
		}
	}
}

// LUDcmp performs an in-place LU decomposition of the n x n matrix A with
// partial pivoting, recording row swaps in indx. Returns false if A is
// singular to working precision.
func LUDcmp(A []float64, n int, indx []int) bool {
	vv := Mat(n, 1)
	for i := 0; i < n; i++ {
		big := 0.0
		for j := 0; j < n; j++ {
			if tmp := math.Abs(A[i+j*n]); tmp > big {
				big = tmp
			}
		}
		if big == 0.0 {
			return false
		}
		vv[i] = 1.0 / big
	}
	var imax int
	for j := 0; j < n; j++ {
		for i := 0; i < j; i++ {
			s := A[i+j*n]
			for k := 0; k < i; k++ {
				s -= A[i+k*n] * A[k+j*n]
			}
			A[i+j*n] = s
		}
		big := 0.0
		for i := j; i < n; i++ {
			s := A[i+j*n]
			for k := 0; k < j; k++ {
				s -= A[i+k*n] * A[k+j*n]
			}
			A[i+j*n] = s
			if tmp := vv[i] * math.Abs(s); tmp >= big {
				big = tmp
				imax = i
			}
		}
		if j != imax {
			for k := 0; k < n; k++ {
				A[imax+k*n], A[j+k*n] = A[j+k*n], A[imax+k*n]
			}
			vv[imax] = vv[j]
		}
		indx[j] = imax
		if A[j+j*n] == 0.0 {
			return false
		}
		if j != n-1 {
			tmp := 1.0 / A[j+j*n]
			for i := j + 1; i < n; i++ {
				A[i+j*n] *= tmp
			}
		}
	}
	return true
}

func luBksb(A []float64, n int, indx []int, b []float64) {
	ii := -1
	for i := 0; i < n; i++ {
		ip := indx[i]
		s := b[ip]
		b[ip] = b[i]
		if ii >= 0 {
			for j := ii; j < i; j++ {
				s -= A[i+j*n] * b[j]
			}
		} else if s != 0.0 {
			ii = i
		}
		b[i] = s
	}
	for i := n - 1; i >= 0; i-- {
		s := b[i]
		for j := i + 1; j < n; j++ {
			s -= A[i+j*n] * b[j]
		}
		b[i] = s / A[i+i*n]
	}
}

// MatInv inverts the n x n matrix A in place via LU decomposition. Returns
// false (leaving A unmodified) if A is singular; callers must treat this as "fall back to SVD" per the numerical
// stability design rule, never retry a direct inverse.
func MatInv(A []float64, n int) bool {
	indx := make([]int, n)
	B := Mat(n, n)
	MatCpy(B, A, n, n)
	if !LUDcmp(B, n, indx) {
		return false
	}
	for j := 0; j < n; j++ {
		col := A[j*n : j*n+n]
		for i := range col {
			col[i] = 0.0
		}
		col[j] = 1.0
		luBksb(B, n, indx, col)
	}
	return true
}

// Det2 is the determinant test used throughout the pipeline's numerical
// stability rule: callers compare |det(A'A)| against 1e-10 before trusting a
// direct inverse.
func Det2(AtA []float64, n int) float64 {
	B := Mat(n, n)
	MatCpy(B, AtA, n, n)
	indx := make([]int, n)
	if !LUDcmp(B, n, indx) {
		return 0.0
	}
	d := 1.0
	for i := 0; i < n; i++ {
		d *= B[i+i*n]
		if indx[i] != i {
			d = -d
		}
	}
	return d
}

// LSQ solves the normal equations x = (A*A')^-1 * A*y, where A is
// the n x m transposed design matrix (n parameters, m measurements, m >= n).
// Q receives the parameter covariance (A*A')^-1. Returns false if A*A' is
// singular; the caller should fall back to SolveSVD.
func LSQ(A, y []float64, n, m int, x, Q []float64) bool {
	if m < n {
		return false
	}
	Ay := Mat(n, 1)
	MatMul("NN", n, 1, m, 1.0, A, y, 0.0, Ay)
	MatMul("NT", n, n, m, 1.0, A, A, 0.0, Q)
	if !MatInv(Q, n) {
		return false
	}
	MatMul("NN", n, 1, n, 1.0, Q, Ay, 0.0, x)
	return true
}

// SolveSVD solves the same least-squares problem as LSQ, but via
// gonum's SVD rather than a direct normal-equations inverse. Used whenever
// |det(A*A')| falls below the pipeline's 1e-10 numerical-stability threshold.
// A is n x m transposed design matrix, y is length m, x and Q (n x n) receive
// the solution and its covariance (the Moore-Penrose pseudo-inverse of A*A').
func SolveSVD(A, y []float64, n, m int) (x, Q []float64) {
	// A is stored transposed/column-major per the package convention; build
	// the conventional m x n design matrix Ad for gonum.
	Ad := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			Ad.Set(i, j, A[j+i*n])
		}
	}
	x = Mat(n, 1)
	Q = Mat(n, n)

	var svd mat.SVD
	if !svd.Factorize(Ad, mat.SVDThin) {
		return x, Q
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	sv := svd.Values(nil)

	const eps = 1e-10
	// x = V * diag(1/s_i) * U' * y, pseudo-inverse solution.
	uty := make([]float64, n)
	for i := 0; i < n; i++ {
		s := 0.0
		for k := 0; k < m; k++ {
			s += u.At(k, i) * y[k]
		}
		if sv[i] > eps {
			uty[i] = s / sv[i]
		}
	}
	for i := 0; i < n; i++ {
		s := 0.0
		for k := 0; k < n; k++ {
			s += v.At(i, k) * uty[k]
		}
		x[i] = s
	}

	// Covariance of the pseudo-inverse solution: V * diag(1/s_i^2) * V'.
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			s := 0.0
			for k := 0; k < n; k++ {
				if sv[k] > eps {
					s += v.At(i, k) * v.At(j, k) / (sv[k] * sv[k])
				}
			}
			Q[i+j*n] = s
		}
	}
	return x, Q
}

// Filter performs one Kalman measurement update:
//
//	K = P*H*(H'*P*H+R)^-1, xp = x+K*v, Pp = (I-K*H')*P
//
// x is the n x 1 state, P the n x n state covariance, H the n x m transpose
// of the design matrix, v the m x 1 innovation, R the m x m measurement
// covariance. Returns the updated state and covariance, or false if H'*P*H+R
// is singular.
func Filter(x, P, H, v, R []float64, n, m int) (xp, Pp []float64, ok bool) {
	F := Mat(n, m)
	Qm := Mat(m, m)
	K := Mat(n, m)
	I := Eye(n)
	xp = Mat(n, 1)
	Pp = Mat(n, n)

	MatCpy(Qm, R, m, m)
	MatCpy(xp, x, n, 1)
	MatMul("NN", n, m, n, 1.0, P, H, 0.0, F)
	MatMul("TN", m, m, n, 1.0, H, F, 1.0, Qm)
	if !MatInv(Qm, m) {
		return xp, P, false
	}
	MatMul("NN", n, m, m, 1.0, F, Qm, 0.0, K)
	MatMul("NN", n, 1, m, 1.0, K, v, 1.0, xp)
	MatMul("NT", n, n, m, -1.0, K, H, 1.0, I)
	MatMul("NN", n, n, n, 1.0, I, P, 0.0, Pp)
	return xp, Pp, true
}
