package telemetry

import (
	"log/slog"

	"gonum.org/v1/gonum/stat"
)

// Confidence qualifies a population forecast.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Prediction is a population forecast N ticks ahead.
type Prediction struct {
	Population float64
	Slope      float64 // Population change per tick
	RSquared   float64
	Confidence Confidence
}

// LogValue implements slog.LogValuer for structured logging.
func (p Prediction) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("population", p.Population),
		slog.Float64("slope", p.Slope),
		slog.Float64("r_squared", p.RSquared),
		slog.String("confidence", string(p.Confidence)),
	)
}

type popSample struct {
	tick       float64
	population float64
}

// Predictor maintains a rolling history of population samples and fits a
// linear growth model over the recent window on request. It is a display
// aid, not required for core correctness.
type Predictor struct {
	window     int
	minSamples int

	samples     []popSample
	writeIndex  int
	sampleCount int
}

// NewPredictor creates a predictor keeping the most recent window samples.
// Prediction requires at least minSamples recorded points.
func NewPredictor(window, minSamples int) *Predictor {
	if window < 2 {
		window = 120
	}
	if minSamples < 2 {
		minSamples = 2
	}
	return &Predictor{
		window:     window,
		minSamples: minSamples,
		samples:    make([]popSample, window),
	}
}

// Record appends a (tick, population) sample, evicting the oldest once the
// window is full.
func (p *Predictor) Record(tick int32, population int) {
	p.samples[p.writeIndex] = popSample{tick: float64(tick), population: float64(population)}
	p.writeIndex = (p.writeIndex + 1) % p.window
	if p.sampleCount < p.window {
		p.sampleCount++
	}
}

// SampleCount returns the number of samples currently held.
func (p *Predictor) SampleCount() int {
	return p.sampleCount
}

// Predict fits a least-squares line over the recorded window and projects
// the population ticksAhead past the most recent sample. Returns ok=false
// when history is insufficient; that is "no prediction available", not an
// error.
func (p *Predictor) Predict(ticksAhead int) (Prediction, bool) {
	if p.sampleCount < p.minSamples {
		return Prediction{}, false
	}

	xs := make([]float64, 0, p.sampleCount)
	ys := make([]float64, 0, p.sampleCount)
	lastTick := 0.0
	for i := 0; i < p.sampleCount; i++ {
		s := p.samples[i]
		xs = append(xs, s.tick)
		ys = append(ys, s.population)
		if s.tick > lastTick {
			lastTick = s.tick
		}
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, alpha, beta)

	projected := alpha + beta*(lastTick+float64(ticksAhead))
	if projected < 0 {
		projected = 0
	}

	confidence := ConfidenceLow
	switch {
	case r2 >= 0.9:
		confidence = ConfidenceHigh
	case r2 >= 0.6:
		confidence = ConfidenceMedium
	}

	return Prediction{
		Population: projected,
		Slope:      beta,
		RSquared:   r2,
		Confidence: confidence,
	}, true
}
