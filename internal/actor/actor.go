// Package actor implements the per-device actor model: a single-consumer
// mailbox loop owning one transport handle, with drop-delayed idle close
// and retry-on-transient-error, parameterized over request/response/handle
// types so every transport kind shares one worker loop.
package actor

import (
	"context"
	"log/slog"
	"time"

	"github.com/nereid-labs/instrumentd/internal/ioerrs"
)

// Handle is the open OS resource an Actor owns exclusively: a serial port,
// socket, or USB endpoint. Close must be idempotent-safe to call once.
type Handle interface {
	Close() error
}

// Opener opens (or reopens) the handle for a request. Config is the
// request's instrument-specific configuration (serial params, TCP
// options, ...); Opener decides whether an existing handle can be reused
// or reconfigured in place.
type Opener[H Handle, C any] interface {
	// Open returns a handle satisfying config. If current is non-nil and
	// already satisfies config (or can be reconfigured in place), Open may
	// return current unchanged. Returning a different handle implies the
	// caller should close the old one only if Open didn't already do so.
	Open(ctx context.Context, current H, hasCurrent bool, config C) (H, error)
}

// Dispatch executes one request against an open handle and returns a
// response or a taxonomy-tagged error (see internal/ioerrs).
type Dispatch[H Handle, Req any, Resp any] func(ctx context.Context, h H, req Req) (Resp, error)

// envelope is one mailbox entry: a request, its config, and the channel to
// deliver the result on. A request whose caller has gone away (closed
// channel never read) still runs to completion; the actor just discards
// the send rather than aborting the in-flight I/O.
type envelope[Req any, C any, Resp any] struct {
	req        Req
	config     C
	disconnect bool
	reply      chan result[Resp]
}

type result[Resp any] struct {
	resp Resp
	err  error
}

// Config bundles the fixed behavior parameters an Actor needs.
type Config struct {
	// DropDelay is the idle grace period before the handle is closed. Zero
	// disables idle-close.
	DropDelay time.Duration
	// MaxRetries bounds the retry loop for should_retry-eligible errors.
	MaxRetries int
	// RetryBackoff is the pause between retry attempts.
	RetryBackoff time.Duration
	Logger       *slog.Logger
}

// Actor is a long-lived worker serializing all access to one instrument
// handle. It is generic over the handle type H, the engine request/config
// types Req/C, and the response type Resp.
type Actor[H Handle, Req any, C any, Resp any] struct {
	mailbox chan *envelope[Req, C, Resp]
	cfg     Config
	opener  Opener[H, C]
	run     Dispatch[H, Req, Resp]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts an Actor's mailbox loop and returns it. Call Stop to tear it
// down.
func New[H Handle, Req any, C any, Resp any](
	parent context.Context,
	cfg Config,
	opener Opener[H, C],
	run Dispatch[H, Req, Resp],
) *Actor[H, Req, C, Resp] {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	a := &Actor[H, Req, C, Resp]{
		mailbox: make(chan *envelope[Req, C, Resp], 32),
		cfg:     cfg,
		opener:  opener,
		run:     run,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go a.loop()
	return a
}

// Submit enqueues req with its config and blocks until the actor processes
// it (FIFO with every other request to this actor) or ctx is done.
func (a *Actor[H, Req, C, Resp]) Submit(ctx context.Context, req Req, config C) (Resp, error) {
	env := &envelope[Req, C, Resp]{req: req, config: config, reply: make(chan result[Resp], 1)}
	select {
	case a.mailbox <- env:
	case <-ctx.Done():
		var zero Resp
		return zero, ioerrs.Internal("actor_submit", ctx.Err())
	case <-a.ctx.Done():
		var zero Resp
		return zero, ioerrs.Internal("actor_submit", a.ctx.Err())
	}
	select {
	case r := <-env.reply:
		return r.resp, r.err
	case <-ctx.Done():
		var zero Resp
		return zero, ioerrs.Internal("actor_submit", ctx.Err())
	}
}

// Disconnect requests the actor close its handle immediately and blocks
// until done.
func (a *Actor[H, Req, C, Resp]) Disconnect(ctx context.Context) error {
	env := &envelope[Req, C, Resp]{disconnect: true, reply: make(chan result[Resp], 1)}
	select {
	case a.mailbox <- env:
	case <-ctx.Done():
		return ioerrs.Internal("actor_disconnect", ctx.Err())
	}
	select {
	case r := <-env.reply:
		return r.err
	case <-ctx.Done():
		return ioerrs.Internal("actor_disconnect", ctx.Err())
	}
}

// Stop tears down the mailbox loop, closing the handle if open.
func (a *Actor[H, Req, C, Resp]) Stop() {
	a.cancel()
	<-a.done
}

func (a *Actor[H, Req, C, Resp]) loop() {
	defer close(a.done)

	var handle H
	var hasHandle bool
	var lastRequest time.Time
	dropTimer := time.NewTimer(time.Hour)
	dropTimer.Stop()
	defer dropTimer.Stop()

	closeHandle := func() {
		if hasHandle {
			_ = handle.Close()
			var zero H
			handle = zero
			hasHandle = false
		}
	}
	defer closeHandle()

	armDropCheck := func() {
		if a.cfg.DropDelay <= 0 {
			return
		}
		if !dropTimer.Stop() {
			select {
			case <-dropTimer.C:
			default:
			}
		}
		dropTimer.Reset(a.cfg.DropDelay + 100*time.Millisecond)
	}

	for {
		select {
		case <-a.ctx.Done():
			return

		case <-dropTimer.C:
			if hasHandle && a.cfg.DropDelay > 0 && time.Since(lastRequest) > a.cfg.DropDelay {
				closeHandle()
			}

		case env := <-a.mailbox:
			if !dropTimer.Stop() {
				select {
				case <-dropTimer.C:
				default:
				}
			}

			if env.disconnect {
				closeHandle()
				env.reply <- result[Resp]{}
				continue
			}

			lastRequest = time.Now()
			resp, err := a.serve(env, &handle, &hasHandle)
			if err == nil || ioerrs.RetainHandle(err) {
				armDropCheck()
			} else {
				closeHandle()
			}
			select {
			case env.reply <- result[Resp]{resp: resp, err: err}:
			default:
			}
		}
	}
}

// serve opens/reuses the handle and dispatches the request, retrying up to
// MaxRetries times on a should_retry-eligible error with a fresh handle
// each attempt.
func (a *Actor[H, Req, C, Resp]) serve(env *envelope[Req, C, Resp], handle *H, hasHandle *bool) (Resp, error) {
	var zero Resp
	var lastErr error

	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if *hasHandle {
				_ = (*handle).Close()
				var z H
				*handle = z
				*hasHandle = false
			}
			time.Sleep(a.cfg.RetryBackoff)
		}

		h, err := a.opener.Open(a.ctx, *handle, *hasHandle, env.config)
		if err != nil {
			lastErr = err
			if ioerrs.ShouldRetry(err) && attempt < a.cfg.MaxRetries {
				continue
			}
			return zero, err
		}
		*handle = h
		*hasHandle = true

		resp, err := a.run(a.ctx, h, env.req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ioerrs.ShouldRetry(err) && attempt < a.cfg.MaxRetries {
			continue
		}
		return zero, err
	}
	return zero, lastErr
}
