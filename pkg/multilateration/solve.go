package multilateration

import (
	"math"

	"tdoageoloc/internal/matutil"
	"tdoageoloc/pkg/tdoa"
)

func distance(x1, y1, x2, y2 float64) float64 {
	dx, dy := x2-x1, y2-y1
	return math.Sqrt(dx*dx + dy*dy)
}

func (s *Solver) clampToRegion(p *Position) {
	if !s.cfg.ConstrainToRegion {
		return
	}
	p.X = math.Max(s.cfg.RegionMinX, math.Min(s.cfg.RegionMaxX, p.X))
	p.Y = math.Max(s.cfg.RegionMinY, math.Min(s.cfg.RegionMaxY, p.Y))
}

// solveLeastSquares linearizes each measurement's hyperbola equation
// Δt·c = ‖p−p_i‖ − ‖p−p_j‖ via the standard squared-distance expansion and
// solves the resulting linear system by normal equations, falling back to
// SVD when nearly singular. Grounded on
// multilateration_solver.cpp's solveLeastSquares.
func (s *Solver) solveLeastSquares(measurements []tdoa.Measurement, sources map[string]SourcePosition) Position {
	type row struct{ a0, a1, b float64 }
	var rows []row
	for _, m := range measurements {
		peer, ok1 := sources[m.PeerID]
		ref, ok2 := sources[m.ReferenceID]
		if !ok1 || !ok2 {
			continue
		}
		distDiff := m.TimeDiffS * s.cfg.SpeedOfLight
		r1 := math.Sqrt(peer.X*peer.X + peer.Y*peer.Y)
		r2 := math.Sqrt(ref.X*ref.X + ref.Y*ref.Y)
		rows = append(rows, row{
			a0: 2 * (ref.X - peer.X),
			a1: 2 * (ref.Y - peer.Y),
			b:  distDiff*distDiff + r1*r1 - r2*r2 - 2*distDiff*r1,
		})
	}
	if len(rows) < 2 {
		return Position{UncertaintyX: 1000, UncertaintyY: 1000}
	}

	n := len(rows)
	// matutil's LSQ convention: A is m x n (transposed), column-major.
	A := matutil.Mat(2, n)
	b := matutil.Mat(n, 1)
	for i, r := range rows {
		A[0+i*2] = r.a0
		A[1+i*2] = r.a1
		b[i] = r.b
	}

	x := matutil.Mat(2, 1)
	Q := matutil.Mat(2, 2)
	AtA := matutil.Mat(2, 2)
	matutil.MatMul("NT", 2, 2, n, 1.0, A, A, 0.0, AtA)
	if math.Abs(matutil.Det2(AtA, 2)) < 1e-10 || !matutil.LSQ(A, b, 2, n, x, Q) {
		x, Q = matutil.SolveSVD(A, b, 2, n)
	}

	position := Position{X: x[0], Y: x[1]}

	residuals := make([]float64, n)
	sumSq := 0.0
	for i, r := range rows {
		res := r.a0*position.X + r.a1*position.Y - r.b
		residuals[i] = res
		sumSq += res * res
	}
	variance := sumSq / float64(n-2)

	position.UncertaintyX = math.Sqrt(math.Max(variance*Q[0], 0))
	position.UncertaintyY = math.Sqrt(math.Max(variance*Q[3], 0))

	normalizedResidual := math.Sqrt(sumSq/float64(n)) / s.cfg.SpeedOfLight
	position.Confidence = clamp01(math.Exp(-normalizedResidual / 1.0e-6))

	s.clampToRegion(&position)
	return position
}

// solveTaylorSeries iteratively linearizes around the current estimate
// (initialized at the receiver centroid) until convergence or
// MaxIterations. Grounded on multilateration_solver.cpp's solveTaylorSeries.
func (s *Solver) solveTaylorSeries(measurements []tdoa.Measurement, sources map[string]SourcePosition) (Position, int) {
	var sumX, sumY float64
	for _, src := range sources {
		sumX += src.X
		sumY += src.Y
	}
	position := Position{X: sumX / float64(len(sources)), Y: sumY / float64(len(sources))}

	iterations := 0
	delta := math.MaxFloat64
	var lastRows int
	var lastResiduals []float64

	for delta > s.cfg.ConvergenceThreshold && iterations < s.cfg.MaxIterations {
		type row struct{ h0, h1, dy float64 }
		var rows []row
		for _, m := range measurements {
			peer, ok1 := sources[m.PeerID]
			ref, ok2 := sources[m.ReferenceID]
			if !ok1 || !ok2 {
				continue
			}
			d1 := distance(position.X, position.Y, peer.X, peer.Y)
			d2 := distance(position.X, position.Y, ref.X, ref.Y)
			predicted := (d1 - d2) / s.cfg.SpeedOfLight
			dx1 := (position.X - peer.X) / (d1 * s.cfg.SpeedOfLight)
			dy1 := (position.Y - peer.Y) / (d1 * s.cfg.SpeedOfLight)
			dx2 := (position.X - ref.X) / (d2 * s.cfg.SpeedOfLight)
			dy2 := (position.Y - ref.Y) / (d2 * s.cfg.SpeedOfLight)
			rows = append(rows, row{h0: dx1 - dx2, h1: dy1 - dy2, dy: m.TimeDiffS - predicted})
		}
		if len(rows) < 2 {
			return Position{UncertaintyX: 1000, UncertaintyY: 1000}, iterations
		}

		n := len(rows)
		H := matutil.Mat(2, n)
		dY := matutil.Mat(n, 1)
		for i, r := range rows {
			H[0+i*2] = r.h0
			H[1+i*2] = r.h1
			dY[i] = r.dy
		}

		dp := matutil.Mat(2, 1)
		Q := matutil.Mat(2, 2)
		if !matutil.LSQ(H, dY, 2, n, dp, Q) {
			dp, Q = matutil.SolveSVD(H, dY, 2, n)
		}
		_ = Q

		position.X += dp[0]
		position.Y += dp[1]
		s.clampToRegion(&position)

		delta = math.Sqrt(dp[0]*dp[0] + dp[1]*dp[1])
		iterations++
		lastRows = n
		lastResiduals = make([]float64, n)
		for i, r := range rows {
			lastResiduals[i] = r.dy
		}
	}

	if lastRows < 2 {
		return Position{UncertaintyX: 1000, UncertaintyY: 1000}, iterations
	}

	// Recompute the Jacobian/covariance at the final position.
	H := matutil.Mat(2, lastRows)
	row := 0
	sumSq := 0.0
	for _, m := range measurements {
		if row >= lastRows {
			break
		}
		peer, ok1 := sources[m.PeerID]
		ref, ok2 := sources[m.ReferenceID]
		if !ok1 || !ok2 {
			continue
		}
		d1 := distance(position.X, position.Y, peer.X, peer.Y)
		d2 := distance(position.X, position.Y, ref.X, ref.Y)
		dx1 := (position.X - peer.X) / (d1 * s.cfg.SpeedOfLight)
		dy1 := (position.Y - peer.Y) / (d1 * s.cfg.SpeedOfLight)
		dx2 := (position.X - ref.X) / (d2 * s.cfg.SpeedOfLight)
		dy2 := (position.Y - ref.Y) / (d2 * s.cfg.SpeedOfLight)
		// Scaled by c so H'H is unit-scale for the 1e-10 determinant test
		// below; the variance is scaled by c² to match.
		H[0+row*2] = (dx1 - dx2) * s.cfg.SpeedOfLight
		H[1+row*2] = (dy1 - dy2) * s.cfg.SpeedOfLight
		row++
	}
	for _, r := range lastResiduals {
		sumSq += r * r
	}
	variance := sumSq * s.cfg.SpeedOfLight * s.cfg.SpeedOfLight / float64(lastRows-2)

	HTH := matutil.Mat(2, 2)
	matutil.MatMul("NT", 2, 2, lastRows, 1.0, H, H, 0.0, HTH)
	if matutil.Det2(HTH, 2) > 1e-10 {
		Q := matutil.Mat(2, 2)
		matutil.MatCpy(Q, HTH, 2, 2)
		if matutil.MatInv(Q, 2) {
			position.UncertaintyX = math.Sqrt(math.Max(variance*Q[0], 0))
			position.UncertaintyY = math.Sqrt(math.Max(variance*Q[3], 0))
		}
	} else {
		position.UncertaintyX = 1000
		position.UncertaintyY = 1000
	}

	normalizedResidual := math.Sqrt(sumSq/float64(lastRows)) / s.cfg.SpeedOfLight
	iterationPenalty := float64(iterations) / float64(s.cfg.MaxIterations)
	position.Confidence = clamp01(math.Exp(-normalizedResidual/1.0e-6) * (1.0 - 0.5*iterationPenalty))

	return position, iterations
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
