package api

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const defMaxAttempts = 5

// FallbackOptions tunes host selection.
type FallbackOptions struct {
	// MaxAttempts caps how many hosts one request tries; it is never
	// more than the number of hosts.  Zero means 5.
	MaxAttempts int
	// RandomlySelect picks a random host per attempt instead of walking
	// the list in order.
	RandomlySelect bool
	// OnFallback is called with each failure before the next host is
	// tried.
	OnFallback func(err error, host *Host)
}

// Fallback spreads requests over several hosts, moving on to the next
// host when one cannot be reached or answers with a 5xx.
type Fallback struct {
	hosts []*Host
	opts  FallbackOptions

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewFallback(hosts []*Host, opts FallbackOptions) (f *Fallback, err error) {
	if len(hosts) == 0 {
		return nil, errors.New("fallback needs at least one host")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defMaxAttempts
	}
	f = &Fallback{
		hosts: hosts,
		opts:  opts,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	return
}

// Hosts returns the configured hosts in order.
func (f *Fallback) Hosts() []*Host {
	return f.hosts
}

func (f *Fallback) Get(ctx context.Context, path string) (*Response, error) {
	return f.request(ctx, func(h *Host) (*Response, error) {
		return h.Get(ctx, path)
	})
}

func (f *Fallback) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return f.request(ctx, func(h *Host) (*Response, error) {
		return h.Post(ctx, path, body)
	})
}

func (f *Fallback) pick(attempt int) *Host {
	if !f.opts.RandomlySelect {
		return f.hosts[attempt]
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hosts[f.rnd.Intn(len(f.hosts))]
}

// request tries hosts until one answers below 500.  When every attempt
// fails, the last 5xx response is returned if there was one, otherwise
// the last transport error.
func (f *Fallback) request(ctx context.Context, fn func(h *Host) (*Response, error)) (resp *Response, err error) {
	attempts := min(f.opts.MaxAttempts, len(f.hosts))
	var lastResp *Response
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		host := f.pick(attempt)
		resp, err = fn(host)
		if err == nil && resp.Status < 500 {
			return resp, nil
		}
		if err == nil {
			lastResp = resp
			lastErr = &StatusError{Status: resp.Status, Msg: GetError(resp)}
		} else {
			lastErr = err
		}
		log.Debugf("fallback: %s failed (attempt %d/%d): %v", host, attempt+1, attempts, lastErr)
		if f.opts.OnFallback != nil {
			f.opts.OnFallback(lastErr, host)
		}
	}
	if lastResp != nil {
		return lastResp, nil
	}
	return nil, lastErr
}
