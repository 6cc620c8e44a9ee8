package radio

import (
	"errors"
	"fmt"
	"math"

	"github.com/sajari/regression"
)

// ErrInvalidModel is returned when a path loss model cannot convert
// signal strength to distance.
var ErrInvalidModel = errors.New("invalid path loss model")

// ErrCalibration is returned when a path loss model cannot be fitted
// from calibration samples.
var ErrCalibration = errors.New("path loss calibration failed")

// PathLossModel is a log-distance propagation model:
//
//	rssi(d) = ReferencePower - 10*Exponent*log10(d/ReferenceDistance)
//
// with lognormal shadowing of ShadowSigma dB around the mean.
type PathLossModel struct {
	// ReferencePower is the expected RSSI in dBm at ReferenceDistance.
	ReferencePower float64

	// ReferenceDistance is the model anchor distance in metres.
	ReferenceDistance float64

	// Exponent is the path loss exponent: 2 in free space, larger
	// indoors.
	Exponent float64

	// ShadowSigma is the shadowing standard deviation in dB.
	ShadowSigma float64
}

// DefaultPathLossModel returns a model for an unobstructed 2.4 GHz
// link: -40 dBm at one metre, free-space exponent, 3 dB shadowing.
func DefaultPathLossModel() PathLossModel {
	return PathLossModel{
		ReferencePower:    -40,
		ReferenceDistance: 1,
		Exponent:          2,
		ShadowSigma:       3,
	}
}

// Validate checks that the model parameters are usable.
func (m PathLossModel) Validate() error {
	if m.ReferenceDistance <= 0 || math.IsNaN(m.ReferenceDistance) {
		return fmt.Errorf("%w: reference distance %v", ErrInvalidModel, m.ReferenceDistance)
	}
	if m.Exponent <= 0 || math.IsNaN(m.Exponent) {
		return fmt.Errorf("%w: exponent %v", ErrInvalidModel, m.Exponent)
	}
	if m.ShadowSigma < 0 || math.IsNaN(m.ShadowSigma) {
		return fmt.Errorf("%w: shadow sigma %v", ErrInvalidModel, m.ShadowSigma)
	}
	return nil
}

// Distance inverts the model for one RSSI value, in metres.
func (m PathLossModel) Distance(rssi float64) float64 {
	return m.ReferenceDistance * math.Pow(10, (m.ReferencePower-rssi)/(10*m.Exponent))
}

// DistanceStdDev propagates dB-domain uncertainty into metres at the
// distance implied by rssi. The reading deviation (dB) combines with the
// model's shadowing. A zero or negative rssiStdDev contributes nothing.
func (m PathLossModel) DistanceStdDev(rssi, rssiStdDev float64) float64 {
	if rssiStdDev < 0 || math.IsNaN(rssiStdDev) {
		rssiStdDev = 0
	}
	sigmaDB := math.Hypot(m.ShadowSigma, rssiStdDev)
	// First-order propagation of d = d0*10^((P0-rssi)/(10n)).
	return m.Distance(rssi) * math.Ln10 / (10 * m.Exponent) * sigmaDB
}

// RSSI evaluates the forward model at distance d metres, in dBm. It is
// mainly useful for simulation and calibration checks.
func (m PathLossModel) RSSI(d float64) float64 {
	return m.ReferencePower - 10*m.Exponent*math.Log10(d/m.ReferenceDistance)
}

// CalibrationSample pairs a known ground-truth distance with the RSSI
// observed there.
type CalibrationSample struct {
	Distance float64 // metres
	RSSI     float64 // dBm
}

// CalibrateModel fits reference power and path loss exponent by linear
// regression of RSSI against log10(d/d0), and estimates shadowing from
// the fit residuals. At least three samples spanning two distinct
// distances are required.
func CalibrateModel(samples []CalibrationSample, referenceDistance float64) (PathLossModel, error) {
	if referenceDistance <= 0 || math.IsNaN(referenceDistance) {
		return PathLossModel{}, fmt.Errorf("%w: reference distance %v", ErrCalibration, referenceDistance)
	}
	if len(samples) < 3 {
		return PathLossModel{}, fmt.Errorf("%w: %d samples, want at least 3", ErrCalibration, len(samples))
	}
	distinct := make(map[float64]struct{}, len(samples))
	for i, s := range samples {
		if s.Distance <= 0 || math.IsNaN(s.Distance) || math.IsNaN(s.RSSI) {
			return PathLossModel{}, fmt.Errorf("%w: bad sample %d (d=%v, rssi=%v)", ErrCalibration, i, s.Distance, s.RSSI)
		}
		distinct[s.Distance] = struct{}{}
	}
	if len(distinct) < 2 {
		return PathLossModel{}, fmt.Errorf("%w: all samples at one distance", ErrCalibration)
	}

	r := new(regression.Regression)
	r.SetObserved("rssi (dBm)")
	r.SetVar(0, "log10(d/d0)")
	for _, s := range samples {
		r.Train(regression.DataPoint(s.RSSI, []float64{math.Log10(s.Distance / referenceDistance)}))
	}
	if err := r.Run(); err != nil {
		return PathLossModel{}, fmt.Errorf("%w: %v", ErrCalibration, err)
	}

	m := PathLossModel{
		ReferencePower:    r.Coeff(0),
		ReferenceDistance: referenceDistance,
		Exponent:          -r.Coeff(1) / 10,
	}
	if m.Exponent <= 0 || math.IsNaN(m.Exponent) {
		return PathLossModel{}, fmt.Errorf("%w: non-physical exponent %v (rssi increasing with distance)", ErrCalibration, m.Exponent)
	}

	// Shadowing from residuals, two fitted parameters.
	var ss float64
	for _, s := range samples {
		pred, err := r.Predict([]float64{math.Log10(s.Distance / referenceDistance)})
		if err != nil {
			return PathLossModel{}, fmt.Errorf("%w: %v", ErrCalibration, err)
		}
		resid := s.RSSI - pred
		ss += resid * resid
	}
	if dof := len(samples) - 2; dof > 0 {
		m.ShadowSigma = math.Sqrt(ss / float64(dof))
	}
	return m, nil
}
