package audio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/cribwatch/cribwatch/internal/status"
)

// Cry heuristic constants.
const (
	cryMinRMS         = 0.05
	cryMinPeak        = 0.3
	cryMinSustained   = 0.4
	cryThreshold      = 0.55
	subFrameDuration  = 0.025
	subFrameHop       = 0.010
	subFrameEnergy    = 0.01
	centroidLow       = 1200.0
	centroidHigh      = 2500.0
	zcrLow            = 0.05
	zcrHigh           = 0.2
	rmsFullScale      = 0.3
	intenseCentroid   = 3000.0
	intenseRMS        = 0.3
	sustainedRMS      = 0.15
	weightCentroid    = 0.4
	weightZCR         = 0.25
	weightRMS         = 0.35
	quietRMS          = 0.005
	envelopeFrame     = 0.100
	envelopeHop       = 0.050
	envelopeMinVar    = 1e-10
	breathMinBPM      = 20.0
	breathMaxBPM      = 60.0
	breathMinPeak     = 0.3
	descCryingFormat  = "Crying detected (RMS=%.3f)"
	descBreathFormat  = "Breathing sounds detected (%.0f bpm)"
	descAmbientFormat = "Ambient noise (RMS=%.3f)"
)

// Cry severity buckets.
const (
	CryTypeIntense   = "intense"
	CryTypeSustained = "sustained"
	CryTypeFussy     = "fussy"
)

// DescQuiet describes a window below the noise floor.
const DescQuiet = "Quiet / no audio"

// Features are the per-window measurements behind an AudioStatus.
type Features struct {
	RMS              float64
	Peak             float64
	ZeroCrossingRate float64
	SpectralCentroid float64
	SustainedRatio   float64
}

// AnalyzeWindow classifies one window of mono samples in [-1, 1].
func AnalyzeWindow(samples []float32, sampleRate int) status.AudioStatus {
	x := toFloat64(samples)
	feat := Measure(x, sampleRate)

	st := status.AudioStatus{
		RMSLevel:         feat.RMS,
		PeakLevel:        feat.Peak,
		SpectralCentroid: feat.SpectralCentroid,
	}

	score := CryScore(feat)
	if feat.RMS > cryMinRMS && feat.Peak > cryMinPeak &&
		feat.SustainedRatio > cryMinSustained && score >= cryThreshold {
		st.IsCrying = true
		st.CryConfidence = score
		st.CryType = cryType(feat)
		st.Description = fmt.Sprintf(descCryingFormat, feat.RMS)
		return st
	}

	if feat.RMS >= quietRMS && feat.RMS < cryMinRMS {
		if bpm, ok := BreathingRate(x, sampleRate); ok {
			st.BreathingDetected = true
			st.BreathingRate = bpm
			st.Description = fmt.Sprintf(descBreathFormat, bpm)
			return st
		}
	}

	if feat.RMS < quietRMS {
		st.Description = DescQuiet
	} else {
		st.Description = fmt.Sprintf(descAmbientFormat, feat.RMS)
	}
	return st
}

// Measure computes the window features used by the cry heuristic.
func Measure(x []float64, sampleRate int) Features {
	if len(x) == 0 {
		return Features{}
	}
	var f Features
	f.RMS = math.Sqrt(floats.Dot(x, x) / float64(len(x)))
	f.Peak = max(math.Abs(floats.Max(x)), math.Abs(floats.Min(x)))
	f.ZeroCrossingRate = zeroCrossingRate(x)
	f.SpectralCentroid = spectralCentroid(x, sampleRate)
	f.SustainedRatio = sustainedRatio(x, sampleRate)
	return f
}

// CryScore combines centroid, zero-crossing rate and loudness into [0,1].
func CryScore(f Features) float64 {
	centroidScore := ramp(f.SpectralCentroid, centroidLow, centroidHigh)
	zcrScore := ramp(f.ZeroCrossingRate, zcrLow, zcrHigh)
	rmsScore := min(f.RMS/rmsFullScale, 1)
	score := weightCentroid*centroidScore + weightZCR*zcrScore + weightRMS*rmsScore
	return max(0, min(score, 1))
}

func cryType(f Features) string {
	switch {
	case f.SpectralCentroid > intenseCentroid && f.RMS > intenseRMS:
		return CryTypeIntense
	case f.RMS > sustainedRMS:
		return CryTypeSustained
	default:
		return CryTypeFussy
	}
}

// ramp maps v linearly from [lo, hi] onto [0, 1], clamped.
func ramp(v, lo, hi float64) float64 {
	if v <= lo {
		return 0
	}
	if v >= hi {
		return 1
	}
	return (v - lo) / (hi - lo)
}

func zeroCrossingRate(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(x); i++ {
		if (x[i-1] >= 0) != (x[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(x)-1)
}

// spectralCentroid is the magnitude-weighted mean frequency of the one-sided
// spectrum.
func spectralCentroid(x []float64, sampleRate int) float64 {
	fft := fourier.NewFFT(len(x))
	coeff := fft.Coefficients(nil, x)

	var weighted, total float64
	for i, c := range coeff {
		mag := math.Hypot(real(c), imag(c))
		weighted += fft.Freq(i) * float64(sampleRate) * mag
		total += mag
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// sustainedRatio is the fraction of 25 ms sub-frames (10 ms hop) whose energy
// exceeds the floor.
func sustainedRatio(x []float64, sampleRate int) float64 {
	frame := int(float64(sampleRate) * subFrameDuration)
	hop := int(float64(sampleRate) * subFrameHop)
	if frame <= 0 || hop <= 0 || len(x) < frame {
		return 0
	}
	total, loud := 0, 0
	for start := 0; start+frame <= len(x); start += hop {
		seg := x[start : start+frame]
		if floats.Dot(seg, seg) > subFrameEnergy {
			loud++
		}
		total++
	}
	return float64(loud) / float64(total)
}

// BreathingRate looks for a periodic energy envelope between 20 and 60
// breaths per minute. It returns false when no qualifying peak exists.
func BreathingRate(x []float64, sampleRate int) (float64, bool) {
	env := energyEnvelope(x, sampleRate)
	if len(env) < 3 {
		return 0, false
	}

	mean := stat.Mean(env, nil)
	floats.AddConst(-mean, env)
	if floats.Dot(env, env)/float64(len(env)) < envelopeMinVar {
		return 0, false
	}

	minLag := int(math.Round(60 / (breathMaxBPM * envelopeHop)))
	maxLag := int(math.Round(60 / (breathMinBPM * envelopeHop)))

	// one lag of margin on each side so edge lags can be local peaks
	lo := max(1, minLag-1)
	hi := min(len(env)-2, maxLag+1)
	if hi <= lo+1 {
		return 0, false
	}
	ac := make([]float64, hi+1)
	for lag := lo; lag <= hi; lag++ {
		ac[lag] = autocorrelation(env, lag)
	}

	bestLag := 0
	bestVal := math.Inf(-1)
	for lag := max(minLag, lo+1); lag <= min(maxLag, hi-1); lag++ {
		v := ac[lag]
		if v < breathMinPeak || v < ac[lag-1] || v < ac[lag+1] {
			continue
		}
		if v > bestVal {
			bestLag, bestVal = lag, v
		}
	}
	if bestLag == 0 {
		return 0, false
	}
	return 60 / (float64(bestLag) * envelopeHop), true
}

// energyEnvelope returns per-frame RMS over 100 ms frames with a 50 ms hop.
func energyEnvelope(x []float64, sampleRate int) []float64 {
	frame := int(float64(sampleRate) * envelopeFrame)
	hop := int(float64(sampleRate) * envelopeHop)
	if frame <= 0 || hop <= 0 || len(x) < frame {
		return nil
	}
	env := make([]float64, 0, (len(x)-frame)/hop+1)
	for start := 0; start+frame <= len(x); start += hop {
		seg := x[start : start+frame]
		env = append(env, math.Sqrt(floats.Dot(seg, seg)/float64(frame)))
	}
	return env
}

// autocorrelation is the unbiased lag-k estimate normalized by the lag-0
// value, so a perfectly periodic envelope scores 1 at its period.
func autocorrelation(env []float64, lag int) float64 {
	n := len(env)
	if lag >= n {
		return 0
	}
	r0 := floats.Dot(env, env) / float64(n)
	if r0 == 0 {
		return 0
	}
	rk := floats.Dot(env[:n-lag], env[lag:]) / float64(n-lag)
	return rk / r0
}

func toFloat64(samples []float32) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s)
	}
	return out
}
