package multilateration

import "math"

// chiSquareTable maps a requested confidence level to the chi-square value
// for 2 degrees of freedom, matching the original's lookup table. Levels not
// present fall back to the 95% value.
var chiSquareTable = map[float64]float64{
	0.99: 9.21,
	0.95: 5.99,
	0.90: 4.61,
	0.70: 2.41,
	0.50: 1.39,
}

func chiSquareFor(confidenceLevel float64) float64 {
	if v, ok := chiSquareTable[confidenceLevel]; ok {
		return v
	}
	return chiSquareTable[0.95]
}

// eigen2x2Symmetric returns the eigenvalues (ascending) and corresponding
// unit eigenvectors of the symmetric matrix [[a,b],[b,d]], matching Eigen's
// SelfAdjointEigenSolver convention used by the original.
func eigen2x2Symmetric(a, b, d float64) (lambda1, lambda2 float64, v1x, v1y, v2x, v2y float64) {
	if b == 0 {
		if a <= d {
			return a, d, 1, 0, 0, 1
		}
		return d, a, 0, 1, 1, 0
	}
	trace := a + d
	diff := a - d
	disc := math.Sqrt(diff*diff + 4*b*b)
	lambda1 = (trace - disc) / 2
	lambda2 = (trace + disc) / 2

	eigvec := func(lambda float64) (float64, float64) {
		if b != 0 {
			vx, vy := lambda-d, b
			n := math.Hypot(vx, vy)
			if n > 1e-12 {
				return vx / n, vy / n
			}
		}
		if a >= d {
			return 1, 0
		}
		return 0, 1
	}
	v1x, v1y = eigvec(lambda1)
	v2x, v2y = eigvec(lambda2)
	return
}

// CalculateConfidenceEllipse converts a position's per-axis uncertainty into
// a confidence-region ellipse, via a diagonal covariance matrix and the
// chi-square value for confidenceLevel. Grounded on
// multilateration_solver.cpp's calculateConfidenceEllipse/covarianceToEllipse.
func CalculateConfidenceEllipse(position Position, confidenceLevel float64) ConfidenceEllipse {
	varX := position.UncertaintyX * position.UncertaintyX
	varY := position.UncertaintyY * position.UncertaintyY

	lambda1, lambda2, v1x, v1y, v2x, v2y := eigen2x2Symmetric(varX, 0, varY)

	// eigen2x2Symmetric returns ascending eigenvalues; the major axis comes
	// from the larger one.
	majorLambda, minorLambda := lambda2, lambda1
	majorX, majorY := v2x, v2y
	if lambda1 > lambda2 {
		majorLambda, minorLambda = lambda1, lambda2
		majorX, majorY = v1x, v1y
	}

	chiSq := chiSquareFor(confidenceLevel)
	semiMajor := math.Sqrt(chiSq * math.Max(majorLambda, 0))
	semiMinor := math.Sqrt(chiSq * math.Max(minorLambda, 0))

	return ConfidenceEllipse{
		CenterX:         position.X,
		CenterY:         position.Y,
		SemiMajorAxis:   semiMajor,
		SemiMinorAxis:   semiMinor,
		RotationRad:     math.Atan2(majorY, majorX),
		ConfidenceLevel: confidenceLevel,
	}
}
