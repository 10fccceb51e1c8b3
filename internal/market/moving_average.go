package market

// Sample is one (timestamp, value) pair. Timestamps are unix seconds with a
// fractional part, matching exchange mark timestamps.
type Sample struct {
	Ts    float64
	Value float64
}

// MovingAverage keeps a chronological buffer of samples and averages them over
// a lookback window. Every insert trims samples older than the longest window,
// so the buffer stays bounded by the window length times the sample rate.
type MovingAverage struct {
	maxWindow float64 // seconds
	samples   []Sample
}

func NewMovingAverage(maxWindowSeconds float64) *MovingAverage {
	return &MovingAverage{maxWindow: maxWindowSeconds}
}

// Add appends a sample and discards everything older than the longest window.
func (m *MovingAverage) Add(ts, value float64) {
	m.samples = append(m.samples, Sample{Ts: ts, Value: value})
	m.trim(ts)
}

func (m *MovingAverage) trim(now float64) {
	cutoff := now - m.maxWindow
	start := 0
	for start < len(m.samples) && m.samples[start].Ts < cutoff {
		start++
	}
	if start > 0 {
		m.samples = m.samples[start:]
	}
}

// Average returns the mean of the samples not older than windowSeconds.
// ok is false when the buffer does not yet span the full window, so callers
// don't quote off a half-built average.
func (m *MovingAverage) Average(windowSeconds, now float64) (avg float64, ok bool) {
	if len(m.samples) == 0 || now-m.samples[0].Ts < windowSeconds {
		return 0, false
	}
	sum := 0.0
	count := 0
	cutoff := now - windowSeconds
	for _, s := range m.samples {
		if s.Ts >= cutoff {
			sum += s.Value
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// Samples exposes the buffer for persistence across restarts.
func (m *MovingAverage) Samples() []Sample {
	return m.samples
}

// Len returns the number of buffered samples.
func (m *MovingAverage) Len() int {
	return len(m.samples)
}

// Restore seeds the buffer from persisted samples. If the newest sample is
// older than maxGapSeconds the whole history is discarded; averaging across a
// gap would blend funding regimes that no longer exist.
func (m *MovingAverage) Restore(samples []Sample, now, maxGapSeconds float64) (kept int) {
	if len(samples) == 0 || samples[len(samples)-1].Ts < now-maxGapSeconds {
		m.samples = nil
		return 0
	}
	m.samples = append([]Sample(nil), samples...)
	m.trim(now)
	return len(m.samples)
}
