// Package xio provides the I/O helpers shared by the upload path and the
// blob engine: throughput-tracking reader/writer wrappers that Session
// and Engine.Get use to report spec.md's per-call size/rate figures,
// and a close helper for defer sites where a Close error shouldn't
// abort the request but is still worth logging.
package xio

import (
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var (
	_ MeasurableWriter = (*measurableWriter)(nil)
	_ MeasurableReader = (*measurableReader)(nil)
)

// Measurable reports how many bytes have moved through a wrapped
// stream and at what rate, so an upload.Session or a blob Get can
// surface live size/throughput figures without the caller threading
// its own byte counter through.
type Measurable interface {
	// BytesPer returns the bytes per period of read/write
	BytesPer(period time.Duration) float64
	// Total returns the total count bytes that already read/write to.
	Total() int64
}

// MeasurableWriter is an io.Writer that also reports Measurable.
type MeasurableWriter interface {
	io.Writer
	Measurable
}

// MeasurableReader is an io.Reader that also reports Measurable.
type MeasurableReader interface {
	io.Reader
	Measurable
}

// NewMeasuredWriter wraps w, counting bytes written through it. Used by
// upload.Session to track a save's size as the spool buffer fills.
func NewMeasuredWriter(w io.Writer) MeasurableWriter {
	return &measurableWriter{wrap: w, rateCounter: newRateCounter()}
}

// measurableWriter wraps a writer and tracks how many bytes are written to it.
type measurableWriter struct {
	wrap io.Writer
	*rateCounter
}

func (m *measurableWriter) Write(b []byte) (n int, err error) {
	n, err = m.wrap.Write(b)
	m.rateCounter.Add(n)
	return n, err
}

// NewMeasuredReader wraps r, counting bytes read from it. Used by
// Engine.Get so a streamed download's size is known without the reader
// having to pre-buffer the whole blob.
func NewMeasuredReader(r io.Reader) MeasurableReader {
	return &measurableReader{wrap: r, rate: newRateCounter()}
}

// measurableReader wraps a reader and tracks how many bytes are read to it.
type measurableReader struct {
	wrap io.Reader
	rate *rateCounter
}

// BytesPer tells the rate per period at which bytes were read since last
// measurement.
func (m *measurableReader) BytesPer(perPeriod time.Duration) float64 {
	return m.rate.Rate(perPeriod)
}

// Total number of bytes that have been read.
func (m *measurableReader) Total() int64 {
	return m.rate.Total()
}

func (m *measurableReader) Read(b []byte) (n int, err error) {
	n, err = m.wrap.Read(b)
	m.rate.Add(n)
	return n, err
}

// newRateCounter returns a rate counter driven by the real wall clock.
func newRateCounter() *rateCounter {
	return &rateCounter{time: clock.New()}
}

type rateCounter struct {
	sync.RWMutex
	time clock.Clock

	count     int64
	lastCount int64
	lastCheck time.Time
}

func (c *rateCounter) Add(n int) {
	c.Lock()
	defer c.Unlock()

	c.count += int64(n)
	if c.lastCheck.IsZero() {
		c.lastCheck = c.time.Now()
	}
}

func (c *rateCounter) Total() int64 {
	c.RLock()
	defer c.RUnlock()
	return c.count
}

func (c *rateCounter) Rate(period time.Duration) float64 {
	c.Lock()
	defer c.Unlock()

	now := c.time.Now()
	between := now.Sub(c.lastCheck)
	changed := c.count - c.lastCount
	rate := float64(changed*int64(period)) / float64(between)

	c.lastCount = c.count
	c.lastCheck = now
	return rate
}
