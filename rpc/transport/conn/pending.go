package conn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/sedarpc/rpc/transport/wire"
	"github.com/someonegg/gox/syncx"
)

// Outcome is the terminal result of a pending call
type Outcome uint8

const (
	OutcomePending Outcome = iota
	// OutcomeSuccess means the matching response arrived
	OutcomeSuccess
	// OutcomeConnectionFailure means the connection broke first
	OutcomeConnectionFailure
	// OutcomeMalformedResponse means a response arrived but could not be decoded
	OutcomeMalformedResponse
	// OutcomeTimedOut means the caller stopped waiting
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeConnectionFailure:
		return "connection failure"
	case OutcomeMalformedResponse:
		return "malformed response"
	case OutcomeTimedOut:
		return "timed out"
	default:
		return "pending"
	}
}

var (
	ErrConnectionFailure = errors.New("connection failure")
	ErrMalformedResponse = errors.New("malformed response")
	ErrTimedOut          = errors.New("call timed out")
)

// Err maps an outcome to an error, nil for success
func (o Outcome) Err() error {
	switch o {
	case OutcomeSuccess:
		return nil
	case OutcomeConnectionFailure:
		return ErrConnectionFailure
	case OutcomeMalformedResponse:
		return ErrMalformedResponse
	case OutcomeTimedOut:
		return ErrTimedOut
	default:
		return errors.New("call still pending")
	}
}

// Result is what a pending call resolves to
type Result struct {
	Outcome    Outcome
	Response   *wire.Response
	Attachment []byte
	File       string
	FileLen    int64
}

// Err returns the error of a non-successful result
func (r Result) Err() error {
	return r.Outcome.Err()
}

// --------------------------------------------------------------------------
// PendingCall
// --------------------------------------------------------------------------

// PendingCall correlates a sent request with its response. It resolves
// exactly once; whoever removes it from the connection's table resolves it.
type PendingCall struct {
	id   uint64
	conn *Connection

	// Handle is an opaque application value carried along with the call
	Handle any

	resolved atomic.Bool
	done     syncx.DoneChan
	result   Result

	hookMu sync.Mutex
	hooks  []func(*PendingCall)
}

func newPendingCall(c *Connection, id uint64) *PendingCall {
	return &PendingCall{
		id:   id,
		conn: c,
		done: syncx.NewDoneChan(),
	}
}

// ID returns the request identifier
func (p *PendingCall) ID() uint64 { return p.id }

// Done is signaled once the call resolved
func (p *PendingCall) Done() syncx.DoneChanR { return p.done.R() }

// Result returns the result and whether the call resolved yet
func (p *PendingCall) Result() (Result, bool) {
	if !p.done.R().Done() {
		return Result{}, false
	}
	return p.result, true
}

// Wait blocks until the call resolves or ctx ends. If ctx ends first the
// call is taken out of the table and resolves as timed out, a response that
// arrives later is dropped.
func (p *PendingCall) Wait(ctx context.Context) Result {
	select {
	case <-p.done:
		return p.result
	case <-ctx.Done():
	}
	if taken, ok := p.conn.takePendingCall(p.id); ok {
		taken.resolve(Result{Outcome: OutcomeTimedOut})
	}
	<-p.done
	return p.result
}

// OnDone registers fn to run once the call resolved. If it already did, fn
// runs right away on the calling goroutine.
func (p *PendingCall) OnDone(fn func(*PendingCall)) {
	p.hookMu.Lock()
	if !p.resolved.Load() {
		p.hooks = append(p.hooks, fn)
		p.hookMu.Unlock()
		return
	}
	p.hookMu.Unlock()
	<-p.done
	fn(p)
}

func (p *PendingCall) resolve(r Result) bool {
	p.hookMu.Lock()
	if !p.resolved.CompareAndSwap(false, true) {
		p.hookMu.Unlock()
		return false
	}
	hooks := p.hooks
	p.hooks = nil
	p.hookMu.Unlock()

	p.result = r
	p.done.SetDone()

	for _, fn := range hooks {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					Logger.Errorf("pending call %d: done hook panicked: %v", p.id, rec)
				}
			}()
			fn(p)
		}()
	}
	return true
}

// --------------------------------------------------------------------------
// Pending call table
// --------------------------------------------------------------------------

func (c *Connection) addPendingCall(p *PendingCall) error {
	c.pendingMu.RLock()
	defer c.pendingMu.RUnlock()
	if c.pendingClosed {
		return ErrClosed
	}
	if _, loaded := c.pending.LoadOrStore(p.id, p); loaded {
		return ErrDuplicateID
	}
	return nil
}

func (c *Connection) removePendingCall(id uint64) {
	c.pending.Delete(id)
}

func (c *Connection) takePendingCall(id uint64) (*PendingCall, bool) {
	return c.pending.LoadAndDelete(id)
}

// failPendingCalls closes the table and fails every call still in it
func (c *Connection) failPendingCalls() {
	c.pendingMu.Lock()
	c.pendingClosed = true
	c.pendingMu.Unlock()

	var ids []uint64
	c.pending.Range(func(id uint64, _ *PendingCall) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		if p, ok := c.takePendingCall(id); ok {
			p.resolve(Result{Outcome: OutcomeConnectionFailure})
		}
	}
}
