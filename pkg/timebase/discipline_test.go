package timebase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syncedDiscipline(t *testing.T) (*Discipline, int64) {
	t.Helper()
	d := New(DefaultConfig(), nil)
	now := time.Now().UnixNano()
	fix := GPSFix{UTC: time.Unix(0, now), Kind: Fix3D}
	d.OnGPSFix(fix)
	require.Equal(t, StatusAcquiring, d.Status())

	for i := 0; i < synchronizedAfterPulses; i++ {
		fix.UTC = time.Unix(0, now+int64(i)*int64(time.Second))
		d.OnGPSFix(fix)
		d.OnPPS(now + int64(i)*int64(time.Second))
	}
	require.Equal(t, StatusSynchronized, d.Status())
	return d, now + synchronizedAfterPulses*int64(time.Second)
}

func TestDisciplineReachesSynchronized(t *testing.T) {
	syncedDiscipline(t)
}

func TestDisciplineEntersHoldoverThenError(t *testing.T) {
	d, last := syncedDiscipline(t)

	d.CheckHoldover(last + int64(3*time.Second))
	assert.Equal(t, StatusHoldover, d.Status())

	// Force a large drift so the error transition fires promptly rather
	// than waiting out the full holdover budget.
	d.mu.Lock()
	d.kalman.x[1] = 600e-9 // 600 ppb
	d.mu.Unlock()

	d.CheckHoldover(last + int64(4*time.Second))
	assert.Equal(t, StatusError, d.Status())
}

func TestDisciplineUncertaintyNonDecreasingInHoldover(t *testing.T) {
	d, last := syncedDiscipline(t)
	d.CheckHoldover(last + int64(3*time.Second))
	require.Equal(t, StatusHoldover, d.Status())

	_, u1 := d.PreciseTimestamp(last + int64(3*time.Second))
	d.CheckHoldover(last + int64(10*time.Second))
	_, u2 := d.PreciseTimestamp(last + int64(10*time.Second))
	assert.GreaterOrEqual(t, u2, u1)
}

func TestPreciseTimestampProjectsTemperatureDuringHoldover(t *testing.T) {
	d, last := syncedDiscipline(t)
	d.OnTemperature(40.0)
	d.CheckHoldover(last + int64(3*time.Second))
	require.Equal(t, StatusHoldover, d.Status())

	early, _ := d.PreciseTimestamp(last + int64(3*time.Second))
	later, _ := d.PreciseTimestamp(last + int64(13*time.Second))

	// With a nonzero temperature away from the reference point, the
	// projected correction should grow with elapsed holdover time rather
	// than staying pinned to the Kalman prediction alone.
	assert.NotEqual(t, early-(last+int64(3*time.Second)), later-(last+int64(13*time.Second)))
}

func TestTemperatureCompensationLinear(t *testing.T) {
	tc := NewTemperatureCompensation(CompensationLinear, -0.2)
	assert.InDelta(t, -2.0, tc.Compensation(10.0), 1e-9)
}

func TestTemperatureCompensationSplineExtrapolatesConstant(t *testing.T) {
	tc := NewTemperatureCompensation(CompensationSpline, 0)
	tc.AddCalibrationPoint(0, 1.0)
	tc.AddCalibrationPoint(10, 3.0)
	assert.InDelta(t, 1.0, tc.Compensation(-5), 1e-9)
	assert.InDelta(t, 3.0, tc.Compensation(20), 1e-9)
	assert.InDelta(t, 2.0, tc.Compensation(5), 1e-9)
}

func TestAllanVarianceRequiresThreeSamples(t *testing.T) {
	a := newAllanVariance()
	a.addSample(0, 1.0)
	a.addSample(int64(time.Second), 1.0)
	assert.Equal(t, 0.0, a.variance(1.0))
}

func TestAllanVarianceCachesUntilNewSample(t *testing.T) {
	a := newAllanVariance()
	for i := 0; i < 20; i++ {
		a.addSample(int64(i)*int64(time.Second), float64(i%2))
	}
	v1 := a.variance(2.0)
	v2 := a.variance(2.0)
	assert.Equal(t, v1, v2)
}
