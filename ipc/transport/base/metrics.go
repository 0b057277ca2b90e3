package base

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dIPC/ipc/frame"
	"github.com/VictoriaMetrics/metrics"
)

// serverMetrics holds the process wide counters of one transport type.
// Servers of the same transport share them (GetOrCreate*).
type serverMetrics struct {
	accepted *metrics.Counter
	active   *metrics.Counter
	frames   *metrics.Counter
	bytes    *metrics.Counter
	sizes    *metrics.Histogram
	name     string
}

func newServerMetrics(transportName string) *serverMetrics {
	return &serverMetrics{
		accepted: metrics.GetOrCreateCounter(fmt.Sprintf(`ipc_connections_accepted_total{transport=%q}`, transportName)),
		active:   metrics.GetOrCreateCounter(fmt.Sprintf(`ipc_connections_active{transport=%q}`, transportName)),
		frames:   metrics.GetOrCreateCounter(fmt.Sprintf(`ipc_frames_received_total{transport=%q}`, transportName)),
		bytes:    metrics.GetOrCreateCounter(fmt.Sprintf(`ipc_frames_received_bytes_total{transport=%q}`, transportName)),
		sizes:    metrics.GetOrCreateHistogram(fmt.Sprintf(`ipc_frame_size_bytes{transport=%q}`, transportName)),
		name:     transportName,
	}
}

// frameReceived records one decoded frame of n bytes
func (m *serverMetrics) frameReceived(n int) {
	m.frames.Inc()
	m.bytes.Add(n)
	m.sizes.Update(float64(n))
}

// frameError counts a failed connection by reason
func (m *serverMetrics) frameError(err error) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`ipc_frame_errors_total{transport=%q,reason=%q}`, m.name, errorReason(err))).Inc()
}

// errorReason maps an error to a short metric label
func errorReason(err error) string {
	switch {
	case errors.Is(err, frame.ErrMalformedLength):
		return "malformed_length"
	case errors.Is(err, frame.ErrTruncatedFrame):
		return "truncated_frame"
	case errors.Is(err, frame.ErrCorruptPayload):
		return "corrupt_payload"
	case errors.Is(err, frame.ErrFrameTooLarge):
		return "frame_too_large"
	case isTimeout(err):
		return "timeout"
	default:
		return "io"
	}
}
