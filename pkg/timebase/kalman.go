package timebase

import (
	"math"

	"tdoageoloc/internal/matutil"
)

// kalman disciplines a local clock against a reference (GPS PPS) using a
// three-state filter: offset (s), drift (s/s), aging (s/s^2). Grounded on
// the teacher's Filter/MatMul/MatInv primitives (common.go) and on the
// original C++ KalmanFilter's state-transition equations
// (time_sync/kalman_filter.h): offset' = offset + drift*dt + 0.5*aging*dt^2.
type kalman struct {
	x             [3]float64 // offset(s), drift(s/s), aging(s/s^2)
	p             [9]float64 // 3x3 covariance, column-major
	q             [9]float64 // process noise covariance
	r             float64    // measurement variance (s^2)
	lastUpdateNS  int64
	initialized   bool
}

func newKalman(processNoiseOffset, processNoiseDrift, processNoiseAging, measurementNoise float64) *kalman {
	k := &kalman{r: measurementNoise}
	k.p[0] = 1.0
	k.p[4] = 1.0e-8
	k.p[8] = 1.0e-12
	k.q[0] = processNoiseOffset
	k.q[4] = processNoiseDrift
	k.q[8] = processNoiseAging
	return k
}

func (k *kalman) reset(initialOffsetSec, initialErrorCov float64) {
	k.x = [3]float64{initialOffsetSec, 0, 0}
	k.p = [9]float64{}
	k.p[0] = initialErrorCov
	k.p[4] = 1.0e-8
	k.p[8] = 1.0e-12
	k.lastUpdateNS = 0
	k.initialized = false
}

// update ingests a measured offset (seconds) at timestampNS (ns since
// epoch), with an optional measurement uncertainty (seconds); uncertainty<=0
// leaves the configured measurement variance unchanged.
func (k *kalman) update(timestampNS int64, measurementSec, uncertaintySec float64) {
	if uncertaintySec > 0 {
		k.r = uncertaintySec * uncertaintySec
	}
	if !k.initialized {
		k.x[0] = measurementSec
		k.lastUpdateNS = timestampNS
		k.initialized = true
		return
	}
	dt := float64(timestampNS-k.lastUpdateNS) * 1e-9
	if dt <= 0 {
		return
	}

	F := matutil.Mat(3, 3)
	F[0+0*3] = 1.0
	F[0+1*3] = dt
	F[0+2*3] = 0.5 * dt * dt
	F[1+1*3] = 1.0
	F[1+2*3] = dt
	F[2+2*3] = 1.0

	xPred := matutil.Mat(3, 1)
	matutil.MatMul("NN", 3, 1, 3, 1.0, F, k.x[:], 0.0, xPred)

	FP := matutil.Mat(3, 3)
	matutil.MatMul("NN", 3, 3, 3, 1.0, F, k.p[:], 0.0, FP)
	Pp := matutil.Mat(3, 3)
	matutil.MatMul("NT", 3, 3, 3, 1.0, FP, F, 0.0, Pp)
	for i := range Pp {
		Pp[i] += k.q[i]
	}

	H := []float64{1, 0, 0}
	v := []float64{measurementSec - xPred[0]}
	R := []float64{k.r}

	xNew, pNew, ok := matutil.Filter(xPred, Pp, H, v, R, 3, 1)
	if !ok {
		return
	}
	copy(k.x[:], xNew)
	copy(k.p[:], pNew)
	k.lastUpdateNS = timestampNS
}

// predict projects the current offset estimate forward to timestampNS
// without consuming a measurement, used to answer PreciseTimestamp calls
// between PPS edges and to project through holdover.
func (k *kalman) predict(timestampNS int64) float64 {
	if !k.initialized {
		return 0
	}
	dt := float64(timestampNS-k.lastUpdateNS) * 1e-9
	return k.x[0] + k.x[1]*dt + 0.5*k.x[2]*dt*dt
}

func (k *kalman) offsetSec() float64       { return k.x[0] }
func (k *kalman) driftPPB() float64        { return k.x[1] * 1e9 }
func (k *kalman) agingPPBPerDay() float64  { return k.x[2] * 86400.0 * 1e9 }
func (k *kalman) uncertaintySec() float64 {
	if k.p[0] < 0 {
		return 0
	}
	return math.Sqrt(k.p[0])
}
