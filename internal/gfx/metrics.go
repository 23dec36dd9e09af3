package gfx

// Metrics tracks RDPGFX-facing counters for a pipeline, adapted from the
// teacher's WebRTC stream metrics: frame counts instead of bandwidth
// sampling, since this transport has no bitrate knob to report.
type Metrics struct {
	framesSubmitted uint64
	framesDropped   uint64
	outstandingSum  uint64
	outstandingObs  uint64
	fallbackCount   uint64
}

func (m *Metrics) recordSubmitted(outstandingAfter int) {
	m.framesSubmitted++
	m.outstandingSum += uint64(outstandingAfter)
	m.outstandingObs++
}

func (m *Metrics) recordDropped() {
	m.framesDropped++
}

// RecordFallback should be called whenever the encoding manager falls
// back from RFX to RAW, so MetricsSnapshot.FallbackCount tracks how
// often an RFX payload overshoots the peer's max_payload.
func (m *Metrics) RecordFallback() {
	m.fallbackCount++
}

// MetricsSnapshot is a point-in-time copy of Metrics for logging or a
// diagnostics endpoint.
type MetricsSnapshot struct {
	FramesSubmitted   uint64
	FramesDropped     uint64
	AverageOutstanding float64
	FallbackCount     uint64
}

func (m *Metrics) snapshot() MetricsSnapshot {
	avg := float64(0)
	if m.outstandingObs > 0 {
		avg = float64(m.outstandingSum) / float64(m.outstandingObs)
	}
	return MetricsSnapshot{
		FramesSubmitted:    m.framesSubmitted,
		FramesDropped:      m.framesDropped,
		AverageOutstanding: avg,
		FallbackCount:      m.fallbackCount,
	}
}
