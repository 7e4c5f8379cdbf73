// Package timebase implements the distributed nanosecond-scale time
// synchronization component (C1): Kalman-disciplined local clock driven by
// GPS PPS edges and fixes, with temperature compensation, Allan-deviation
// stability tracking, and bounded holdover.
//
// Concurrency follows the teacher's rtksvr.go idiom: one mutex guards all
// state, with explicit Lock/Unlock accessors, and PreciseTimestamp never
// blocks on device I/O — it takes a short lock and returns a Kalman-
// predicted value.
package timebase

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tdoageoloc/internal/errs"
)

// Status is the time-base synchronization state machine (§4.1).
type Status int

const (
	StatusUnknown Status = iota
	StatusUnsynchronized
	StatusAcquiring
	StatusSynchronized
	StatusHoldover
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusUnsynchronized:
		return "unsynchronized"
	case StatusAcquiring:
		return "acquiring"
	case StatusSynchronized:
		return "synchronized"
	case StatusHoldover:
		return "holdover"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// FixKind is the GPS fix quality, matching §6's GPS device adapter.
type FixKind int

const (
	FixNone FixKind = iota
	Fix2D
	Fix3D
)

// GPSFix is a snapshot of the most recent GPS device reading.
type GPSFix struct {
	UTC         time.Time
	Latitude    float64
	Longitude   float64
	Altitude    float64
	Kind        FixKind
	HDOP        float64
	PDOP        float64
	VDOP        float64
	Satellites  int
	PerSVSNR    map[int]float64
}

// GPSDevice is the external collaborator interface named in §6; SDR/serial
// device wrappers that implement it are out of this module's scope.
type GPSDevice interface {
	Open(path string) error
	Close() error
	LastFix() (GPSFix, error)
	RegisterDataCallback(func(GPSFix))
	RegisterPPSCallback(func(timestampNS int64))
	SetPPSInputPin(pin int) error
	Configure(key, value string) error
	PPSOffsetNS() int64
}

// TemperatureSensor is an optional collaborator feeding the temperature
// compensation model; named-interface-only per §1's scope.
type TemperatureSensor interface {
	ReadCelsius() (float64, error)
}

// Config holds Discipline's tunables (§6 "configuration knobs: time base").
type Config struct {
	MaxHoldoverTime          time.Duration
	DriftThresholdPPB        float64
	TemperatureCompensation  CompensationMode
	LinearCoefficientPPBPerC float64
	AntennaDelayNS           float64
	CableDelayNS             float64
	ReceiverDelayNS          float64
	ProcessNoiseOffset       float64
	ProcessNoiseDrift        float64
	ProcessNoiseAging        float64
	MeasurementNoiseSec      float64
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxHoldoverTime:          60 * time.Second,
		DriftThresholdPPB:        500,
		TemperatureCompensation:  CompensationLinear,
		LinearCoefficientPPBPerC: defaultLinearCoefficientPPBPerC,
		ProcessNoiseOffset:       1e-12,
		ProcessNoiseDrift:        1e-16,
		ProcessNoiseAging:        1e-20,
		MeasurementNoiseSec:      1e-12,
	}
}

const (
	holdoverEntryThreshold = 2 * time.Second
	synchronizedAfterPulses = 5
	maxUncertaintyNS        = 1e9
)

// Discipline is the time-base component (C1). Zero value is not usable;
// construct with New.
type Discipline struct {
	mu  sync.Mutex
	log logrus.FieldLogger
	cfg Config

	status      Status
	kalman      *kalman
	tempComp    *TemperatureCompensation
	allan       *allanVariance
	pulseCount  int
	lastFix     *GPSFix
	lastPPSNS   int64
	haveLastPPS bool
	currentTemp float64
	uncertainty float64 // seconds

	eventCallback func(status Status, message string)
}

// New constructs a Discipline. A nil logger defaults to logrus's standard
// logger, matching the nil-safe injection convention used throughout this
// module.
func New(cfg Config, logger logrus.FieldLogger) *Discipline {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Discipline{
		log:      logger,
		cfg:      cfg,
		status:   StatusUnsynchronized,
		kalman:   newKalman(cfg.ProcessNoiseOffset, cfg.ProcessNoiseDrift, cfg.ProcessNoiseAging, cfg.MeasurementNoiseSec),
		tempComp: NewTemperatureCompensation(cfg.TemperatureCompensation, cfg.LinearCoefficientPPBPerC),
		allan:    newAllanVariance(),
	}
}

// Lock and Unlock expose the component mutex for callers that need to
// observe multiple fields atomically, matching rtksvr.go's RtkSvrLock
// convention.
func (d *Discipline) Lock()   { d.mu.Lock() }
func (d *Discipline) Unlock() { d.mu.Unlock() }

// RegisterEventCallback installs a callback fired on status transitions.
// The callback is invoked while the component lock is held and must not
// re-enter the Discipline (§5).
func (d *Discipline) RegisterEventCallback(cb func(status Status, message string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.eventCallback = cb
}

func (d *Discipline) setStatus(s Status, message string) {
	if d.status == s {
		return
	}
	d.status = s
	d.log.WithFields(logrus.Fields{"component": "timebase", "status": s.String()}).Info(message)
	if d.eventCallback != nil {
		d.eventCallback(s, message)
	}
}

// Status returns the current synchronization status.
func (d *Discipline) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// OnGPSFix ingests a new GPS fix, transitioning unsynchronized->acquiring.
func (d *Discipline) OnGPSFix(fix GPSFix) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastFix = &fix
	if d.status == StatusUnsynchronized {
		d.setStatus(StatusAcquiring, "GPS fix acquired")
	}
}

// OnTemperature records the oscillator temperature for compensation.
func (d *Discipline) OnTemperature(tempC float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.currentTemp = tempC
}

// OnPPS ingests a PPS edge captured at localTimestampNS (ns since epoch).
// The measurement is the offset between the captured edge and the expected
// UTC second boundary derived from the last GPS fix, corrected for antenna/
// cable/receiver delay and temperature compensation (§4.1).
func (d *Discipline) OnPPS(localTimestampNS int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pulseCount++
	d.lastPPSNS = localTimestampNS
	d.haveLastPPS = true

	if d.lastFix == nil || d.lastFix.Kind == FixNone {
		return
	}

	utcNS := d.lastFix.UTC.UnixNano()
	utcSecondBoundary := ((utcNS / int64(time.Second)) + 1) * int64(time.Second)
	offsetNS := float64(utcSecondBoundary - localTimestampNS)
	offsetNS -= d.cfg.AntennaDelayNS + d.cfg.CableDelayNS + d.cfg.ReceiverDelayNS
	if d.cfg.TemperatureCompensation != CompensationNone {
		compPPB := d.tempComp.Compensation(d.currentTemp)
		offsetNS -= compPPB // ppb over a 1s interval -> ns
	}

	d.allan.addSample(localTimestampNS, offsetNS)
	d.kalman.update(localTimestampNS, offsetNS*1e-9, d.uncertainty)
	d.uncertainty = d.kalman.uncertaintySec()

	switch {
	case d.status == StatusAcquiring && d.pulseCount >= synchronizedAfterPulses:
		d.setStatus(StatusSynchronized, "time synchronization achieved")
	case d.status == StatusHoldover:
		d.setStatus(StatusSynchronized, "recovered from holdover")
	}
}

// CheckHoldover is invoked periodically (e.g. by a dedicated ticking
// goroutine per §5) to detect PPS loss and drive the holdover/error
// transitions. now is the current time in ns since epoch.
func (d *Discipline) CheckHoldover(nowNS int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.haveLastPPS {
		return
	}
	sinceLastPPS := time.Duration(nowNS-d.lastPPSNS) * time.Nanosecond

	switch {
	case d.status == StatusSynchronized && sinceLastPPS > holdoverEntryThreshold:
		d.setStatus(StatusHoldover, "entered holdover mode, PPS lost")
	case d.status == StatusHoldover:
		driftPPB := abs(d.kalman.driftPPB())
		additional := sinceLastPPS.Seconds() * driftPPB / 1000.0 * 1e-9
		d.uncertainty += additional
		if d.uncertainty*1e9 > maxUncertaintyNS {
			d.uncertainty = maxUncertaintyNS * 1e-9
		}
		if sinceLastPPS > d.cfg.MaxHoldoverTime || driftPPB > d.cfg.DriftThresholdPPB {
			d.setStatus(StatusError, "holdover expired or drift exceeded threshold")
		}
	}
}

// PreciseTimestamp returns a Kalman-predicted corrected timestamp (ns since
// epoch) and its uncertainty (ns), given the caller's local clock reading.
// It takes only a short lock and performs no device I/O. During holdover the
// projected offset also integrates the live temperature-compensation term
// over the time elapsed since the last PPS edge (§4.1's holdover projection),
// matching gps_time_sync.cpp's getPreciseTimestamp, which keeps applying
// temperatureCompensation_.getCompensation scaled by secondsSinceLastPps
// once PPS edges stop arriving.
func (d *Discipline) PreciseTimestamp(localNowNS int64) (correctedNS int64, uncertaintyNS float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	offsetNS := d.kalman.predict(localNowNS) * 1e9
	if d.status == StatusHoldover && d.cfg.TemperatureCompensation != CompensationNone && d.haveLastPPS {
		elapsedSec := float64(localNowNS-d.lastPPSNS) * 1e-9
		compPPB := d.tempComp.Compensation(d.currentTemp)
		offsetNS -= compPPB * elapsedSec // ppb times seconds -> ns
	}
	uncertainty := d.uncertainty * 1e9
	if d.status == StatusError {
		uncertainty = maxUncertaintyNS
	}
	return localNowNS + int64(offsetNS), uncertainty
}

// AllanDeviation returns sigma_y(tau) for the given averaging time.
func (d *Discipline) AllanDeviation(tau float64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allan.deviation(tau)
}

// NoiseClassification classifies the dominant noise process from the
// log-log slope of Allan deviation over [1s, 100s].
func (d *Discipline) NoiseClassification() (NoiseType, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allan.classifyNoise(1.0, 100.0)
}

// DriftPPB returns the filter's current drift estimate in parts-per-billion.
func (d *Discipline) DriftPPB() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.kalman.driftPPB()
}

// AgingPPBPerDay returns the filter's current aging estimate.
func (d *Discipline) AgingPPBPerDay() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.kalman.agingPPBPerDay()
}

// AddTemperatureCalibrationPoint forwards to the temperature compensation
// model; returns a configuration error if compensation mode is None.
func (d *Discipline) AddTemperatureCalibrationPoint(tempC, freqOffsetPPB float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg.TemperatureCompensation == CompensationNone {
		return errs.New(errs.Configuration, "timebase.AddTemperatureCalibrationPoint", "temperature compensation disabled")
	}
	d.tempComp.AddCalibrationPoint(tempC, freqOffsetPPB)
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
