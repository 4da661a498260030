package reactor

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/ValentinKolb/sedarpc/rpc/transport/buffer"
	"github.com/ValentinKolb/sedarpc/rpc/transport/wire"
	"github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// Metrics collects the counters of one reactor. It implements conn.Stats.
// Counters are exported in Prometheus format through a metrics.Set, the
// byte rates are exponentially weighted meters.
type Metrics struct {
	name string
	set  *metrics.Set

	bytesSent      *metrics.Counter
	bytesReceived  *metrics.Counter
	vectors        [2][3]*metrics.Counter
	requests       *metrics.Counter
	responses      *metrics.Counter
	unknownTags    *metrics.Counter
	protocolErrors *metrics.Counter
	drained        *metrics.Counter
	opened         *metrics.Counter
	closed         *metrics.Counter
	evicted        *metrics.Counter
	acceptErrors   *metrics.Counter
	active         atomic.Int64

	rates    gometrics.Registry
	sendRate gometrics.Meter
	recvRate gometrics.Meter
}

// NewMetrics creates the metrics of the reactor called name. The name
// becomes the "reactor" label of every series.
func NewMetrics(name string) *Metrics {
	s := metrics.NewSet()
	label := func(metric string, extra ...string) string {
		l := fmt.Sprintf(`sedarpc_transport_%s{reactor=%q`, metric, name)
		for i := 0; i+1 < len(extra); i += 2 {
			l += fmt.Sprintf(`,%s=%q`, extra[i], extra[i+1])
		}
		return l + "}"
	}

	m := &Metrics{
		name:           name,
		set:            s,
		bytesSent:      s.NewCounter(label("bytes_sent_total")),
		bytesReceived:  s.NewCounter(label("bytes_received_total")),
		requests:       s.NewCounter(label("messages_received_total", "tag", "request")),
		responses:      s.NewCounter(label("messages_received_total", "tag", "response")),
		unknownTags:    s.NewCounter(label("messages_received_total", "tag", "unknown")),
		protocolErrors: s.NewCounter(label("protocol_errors_total")),
		drained:        s.NewCounter(label("drained_bytes_total")),
		opened:         s.NewCounter(label("connections_opened_total")),
		closed:         s.NewCounter(label("connections_closed_total")),
		evicted:        s.NewCounter(label("connections_evicted_total")),
		acceptErrors:   s.NewCounter(label("accept_errors_total")),
		rates:          gometrics.NewRegistry(),
	}
	for d, dir := range []string{"recv", "send"} {
		for _, st := range []buffer.State{buffer.StateDone, buffer.StateError, buffer.StateCleanup} {
			m.vectors[d][st] = s.NewCounter(label("vectors_total", "dir", dir, "state", st.String()))
		}
	}
	s.NewGauge(label("connections_active"), func() float64 {
		return float64(m.active.Load())
	})

	m.sendRate = gometrics.NewMeter()
	m.recvRate = gometrics.NewMeter()
	_ = m.rates.Register("send.bytes", m.sendRate)
	_ = m.rates.Register("recv.bytes", m.recvRate)
	return m
}

// --------------------------------------------------------------------------
// conn.Stats
// --------------------------------------------------------------------------

func (m *Metrics) BytesSent(n int) {
	m.bytesSent.Add(n)
	m.sendRate.Mark(int64(n))
}

func (m *Metrics) BytesReceived(n int) {
	m.bytesReceived.Add(n)
	m.recvRate.Mark(int64(n))
}

func (m *Metrics) VectorCompleted(send bool, state buffer.State) {
	d := 0
	if send {
		d = 1
	}
	if int(state) < len(m.vectors[d]) {
		m.vectors[d][state].Inc()
	}
}

func (m *Metrics) MessageReceived(tag wire.Tag) {
	switch tag {
	case wire.TagRequest:
		m.requests.Inc()
	case wire.TagResponse:
		m.responses.Inc()
	default:
		m.unknownTags.Inc()
	}
}

func (m *Metrics) ProtocolError()  { m.protocolErrors.Inc() }
func (m *Metrics) Drained(n int64) { m.drained.Add(int(n)) }

// --------------------------------------------------------------------------
// Reactor events
// --------------------------------------------------------------------------

func (m *Metrics) connectionOpened() {
	m.opened.Inc()
	m.active.Add(1)
}

func (m *Metrics) connectionClosed() {
	m.closed.Inc()
	m.active.Add(-1)
}

func (m *Metrics) connectionsEvicted(n int) { m.evicted.Add(n) }
func (m *Metrics) acceptFailed()            { m.acceptErrors.Inc() }

// --------------------------------------------------------------------------
// Export
// --------------------------------------------------------------------------

// Set returns the underlying set, e.g. for metrics.RegisterSet
func (m *Metrics) Set() *metrics.Set { return m.set }

// WritePrometheus writes all series in Prometheus text format
func (m *Metrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

// Snapshot is a point-in-time copy of the most relevant counters
type Snapshot struct {
	BytesSent      uint64
	BytesReceived  uint64
	Requests       uint64
	Responses      uint64
	ProtocolErrors uint64
	Drained        uint64
	Opened         uint64
	Closed         uint64
	Evicted        uint64
	Active         int64
	SendRate1      float64
	RecvRate1      float64
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		BytesSent:      m.bytesSent.Get(),
		BytesReceived:  m.bytesReceived.Get(),
		Requests:       m.requests.Get(),
		Responses:      m.responses.Get(),
		ProtocolErrors: m.protocolErrors.Get(),
		Drained:        m.drained.Get(),
		Opened:         m.opened.Get(),
		Closed:         m.closed.Get(),
		Evicted:        m.evicted.Get(),
		Active:         m.active.Load(),
		SendRate1:      m.sendRate.Rate1(),
		RecvRate1:      m.recvRate.Rate1(),
	}
}

func (s Snapshot) String() string {
	return fmt.Sprintf("conns %d (opened %d, closed %d, evicted %d), msgs %d req / %d resp, sent %d B (%.0f B/s), received %d B (%.0f B/s), protocol errors %d, drained %d B",
		s.Active, s.Opened, s.Closed, s.Evicted, s.Requests, s.Responses,
		s.BytesSent, s.SendRate1, s.BytesReceived, s.RecvRate1, s.ProtocolErrors, s.Drained)
}

// stop releases the meters' background ticker
func (m *Metrics) stop() {
	m.rates.UnregisterAll()
	m.sendRate.Stop()
	m.recvRate.Stop()
}
