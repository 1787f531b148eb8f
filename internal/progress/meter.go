// Package progress implements the progress meter of §4.4: a byte-sink
// wrapper that pushes byte-count updates into the tracker as a download
// streams, without ever failing the transfer itself.
package progress

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// boundary is the byte count increment (1 MiB) that triggers a push.
const boundary = 1 << 20

// Sink receives progress updates. Implemented by
// internal/database.Repository in production.
type Sink interface {
	UpdateZipDownloadProgress(ctx context.Context, zipDownloadID int64, bytesReceived int64, at time.Time) error
}

// Meter wraps an underlying io.Writer and intercepts every write,
// pushing an update each time the cumulative byte count crosses a 1 MiB
// boundary or reaches the declared total size. A tracker error is
// logged and swallowed — per §4.4, updates must never fail the
// download.
type Meter struct {
	ctx    context.Context
	dst    io.Writer
	sink   Sink
	logger *slog.Logger

	zipDownloadID int64
	totalBytes    int64
	bytesSoFar    int64
	lastPushed    int64
}

// NewMeter wraps dst, pushing updates for zipDownloadID into sink.
// totalBytes may be 0 when the remote size is unknown; percentComplete
// then always reports 0.
func NewMeter(ctx context.Context, dst io.Writer, sink Sink, zipDownloadID int64, totalBytes int64, logger *slog.Logger) *Meter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Meter{
		ctx: ctx, dst: dst, sink: sink, logger: logger,
		zipDownloadID: zipDownloadID, totalBytes: totalBytes,
	}
}

// Write implements io.Writer, forwarding to the underlying sink and
// then evaluating whether to push a progress update.
func (m *Meter) Write(p []byte) (int, error) {
	n, err := m.dst.Write(p)
	if n > 0 {
		m.bytesSoFar += int64(n)
		m.maybePush()
	}
	return n, err
}

func (m *Meter) maybePush() {
	crossedBoundary := m.bytesSoFar/boundary > m.lastPushed/boundary
	reachedTotal := m.totalBytes > 0 && m.bytesSoFar >= m.totalBytes && m.lastPushed < m.totalBytes
	if !crossedBoundary && !reachedTotal {
		return
	}

	now := time.Now()
	if err := m.sink.UpdateZipDownloadProgress(m.ctx, m.zipDownloadID, m.bytesSoFar, now); err != nil {
		m.logger.Warn("progress update failed, continuing transfer",
			"component", "progress-meter", "zip_download_id", m.zipDownloadID, "error", err)
	}
	m.lastPushed = m.bytesSoFar
}

// BytesSoFar returns the cumulative byte count written so far.
func (m *Meter) BytesSoFar() int64 { return m.bytesSoFar }

// TotalBytes returns the declared total size, or 0 if unknown.
func (m *Meter) TotalBytes() int64 { return m.totalBytes }

// PercentComplete returns bytesSoFar/totalBytes as a percentage, or 0
// when the total is unknown.
func (m *Meter) PercentComplete() float64 {
	if m.totalBytes <= 0 {
		return 0
	}
	pct := float64(m.bytesSoFar) / float64(m.totalBytes) * 100
	if pct > 100 {
		return 100
	}
	return pct
}
