// Package dispatcher implements the OpCode-to-handler table of spec.md
// §4.2 and §4.8: handlers are registered explicitly at construction time
// (spec.md §9 design note (b), not via reflection) into an immutable lookup
// table, and each registration carries a Policy the runtime enforces before
// invoking the handler.
package dispatcher

import (
	"context"
	"time"

	"github.com/ocx/gateway/internal/codec"
	"github.com/ocx/gateway/internal/connection"
	"github.com/ocx/gateway/internal/gatewayerr"
)

// HandlerFunc processes one decoded packet for one connection and returns
// the raw reply frame to send back, or nil if the handler sends nothing
// itself (e.g. it called conn.Send directly for a multi-frame reply).
type HandlerFunc func(ctx context.Context, conn *connection.Connection, pkt *codec.Packet) ([]byte, error)

// RateLimiter is the subset of firewall.Limiter the dispatcher needs; kept
// as an interface so tests can stub it out.
type RateLimiter interface {
	TryDownload(n int) error
}

// Policy gates a handler invocation: the connection must meet
// RequiredAuthority, must be Authenticated if RequireEncrypted is set, and
// the handler is canceled if it runs past Timeout.
type Policy struct {
	RequiredAuthority connection.Authority
	RequireEncrypted  bool
	Timeout           time.Duration
}

type entry struct {
	handler HandlerFunc
	policy  Policy
}

// Dispatcher is an immutable OpCode lookup table built via Register calls
// before the first Dispatch. It is safe for concurrent Dispatch calls once
// construction is complete since the table itself is never mutated after.
type Dispatcher struct {
	table map[uint16]entry
}

// New creates an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{table: make(map[uint16]entry)}
}

// Register binds opcode to handler under policy. Registering the same
// opcode twice is a construction-time configuration error.
func (d *Dispatcher) Register(opcode uint16, handler HandlerFunc, policy Policy) error {
	if _, exists := d.table[opcode]; exists {
		return gatewayerr.New(gatewayerr.KindConfigInvalid, "dispatcher.Register", nil)
	}
	d.table[opcode] = entry{handler: handler, policy: policy}
	return nil
}

// Dispatch looks up pkt.Header.ID, enforces its Policy, and invokes the
// handler with a context bounded by the policy timeout. limiter may be nil
// to skip rate limiting (e.g. in tests).
func (d *Dispatcher) Dispatch(ctx context.Context, conn *connection.Connection, pkt *codec.Packet, limiter RateLimiter) ([]byte, error) {
	e, ok := d.table[pkt.Header.ID]
	if !ok {
		return nil, gatewayerr.New(gatewayerr.KindUnknownOpCode, "dispatcher.Dispatch", nil)
	}

	if conn.Authority() < e.policy.RequiredAuthority {
		return nil, gatewayerr.New(gatewayerr.KindPermissionDenied, "dispatcher.Dispatch", nil)
	}
	if e.policy.RequireEncrypted && conn.State() != connection.Authenticated {
		return nil, gatewayerr.New(gatewayerr.KindNotEncrypted, "dispatcher.Dispatch", nil)
	}
	if limiter != nil {
		if err := limiter.TryDownload(len(pkt.Payload) + codec.HeaderSize); err != nil {
			return nil, err
		}
	}

	hctx := ctx
	if e.policy.Timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, e.policy.Timeout)
		defer cancel()
	}

	type result struct {
		reply []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := e.handler(hctx, conn, pkt)
		done <- result{reply, err}
	}()

	select {
	case r := <-done:
		return r.reply, r.err
	case <-hctx.Done():
		return nil, gatewayerr.New(gatewayerr.KindHandlerTimeout, "dispatcher.Dispatch", hctx.Err())
	}
}
