package multilateration

import (
	"math"

	"tdoageoloc/internal/matutil"
)

// CalculateGDOP builds the unit-vector-plus-clock-bias geometry matrix G from
// every source's line of sight to position and derives the standard dilution
// of precision figures. VDOP is always zero since the solver is 2-D. Fewer
// than 3 receivers, or receivers collinear enough to leave GᵀG singular,
// yields the zero-valued record: GDOP is undefined rather than a sentinel.
// Grounded on multilateration_solver.cpp's calculateGDOP, which returns its
// default-constructed (zero) gdopInfo in both of those cases.
func CalculateGDOP(sources map[string]SourcePosition, position Position) GDOPInfo {
	n := len(sources)
	if n < 3 {
		return GDOPInfo{}
	}

	G := matutil.Mat(n, 3)
	row := 0
	for _, src := range sources {
		dx := position.X - src.X
		dy := position.Y - src.Y
		r := math.Sqrt(dx*dx + dy*dy)
		if r < 1e-9 {
			r = 1e-9
		}
		G[row+0*n] = dx / r
		G[row+1*n] = dy / r
		G[row+2*n] = 1.0
		row++
	}

	GtG := matutil.Mat(3, 3)
	matutil.MatMul("TN", 3, 3, n, 1.0, G, G, 0.0, GtG)

	if matutil.Det2(GtG, 3) < 1e-10 {
		return GDOPInfo{}
	}

	cov := matutil.Mat(3, 3)
	matutil.MatCpy(cov, GtG, 3, 3)
	if !matutil.MatInv(cov, 3) {
		return GDOPInfo{}
	}

	trace := cov[0] + cov[4] + cov[8]
	gdop := math.Sqrt(math.Max(trace, 0))
	hdop := math.Sqrt(math.Max(cov[0]+cov[4], 0))
	tdop := math.Sqrt(math.Max(cov[8], 0))

	return GDOPInfo{
		GDOP: gdop,
		PDOP: hdop,
		HDOP: hdop,
		VDOP: 0,
		TDOP: tdop,
	}
}
