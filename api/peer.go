// Package api talks to network peers over HTTP: a single-host
// transport, a multi-host fallback wrapper, the typed errors peers
// report, and helpers for each gateway endpoint.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	kiB = 1024
	miB = 1024 * kiB

	defHost     = "127.0.0.1"
	defProtocol = "http"
	defTimeout  = 20 * time.Second

	// largest response body we will read
	maxContentLength = 512 * miB
)

// ErrTooLarge is a response body longer than the host's
// MaxContentLength.  It comes wrapped in a TransportError.
var ErrTooLarge = errors.New("response body exceeds max content length")

// Response is what a peer answered.  Non-2xx statuses are responses
// too; only requests that never got a status are errors.
type Response struct {
	Status int
	Data   []byte
	Header http.Header
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// JSON decodes the body into v.
func (r *Response) JSON(v interface{}) error {
	err := json.Unmarshal(r.Data, v)
	if err != nil {
		return errors.Wrapf(err, "decoding %.64q", r.Data)
	}
	return nil
}

// Peer is the request capability everything above the transport
// consumes.  Both Host and Fallback implement it.
type Peer interface {
	Get(ctx context.Context, path string) (*Response, error)
	Post(ctx context.Context, path string, body interface{}) (*Response, error)
}

// HostConfig describes one peer.
type HostConfig struct {
	Host     string
	Protocol string
	Port     int
	Timeout  time.Duration
	// Network is sent as the x-network header when set.
	Network string
	// Logging reports every request and response at info level.
	Logging bool
	// RateLimit caps requests per second; zero is unlimited.
	RateLimit float64
	// MaxContentLength caps response bodies; zero is 512 MiB.
	MaxContentLength int64
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Host is a single HTTP peer.
type Host struct {
	Config  HostConfig
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHost fills in defaults the way gateways expect: 127.0.0.1 over
// http, port 80 or 443 by protocol, 20s timeout.
func NewHost(cfg HostConfig) (h *Host, err error) {
	if cfg.Protocol == "" {
		cfg.Protocol = defProtocol
	}
	if cfg.Protocol != "http" && cfg.Protocol != "https" {
		return nil, errors.Errorf("unsupported protocol %q", cfg.Protocol)
	}
	if cfg.Host == "" {
		cfg.Host = defHost
	}
	if cfg.Port == 0 {
		cfg.Port = 80
		if cfg.Protocol == "https" {
			cfg.Port = 443
		}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defTimeout
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = maxContentLength
	}
	h = &Host{Config: cfg}
	h.baseURL = fmt.Sprintf("%s://%s:%d", cfg.Protocol, cfg.Host, cfg.Port)
	h.client = cfg.HTTPClient
	if h.client == nil {
		h.client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.RateLimit > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return
}

// ParseHost builds a Host from a URL such as https://arweave.net,
// taking everything but protocol, host and port from global.
func ParseHost(rawurl string, global HostConfig) (h *Host, err error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid host %q", rawurl)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return nil, errors.Errorf("invalid host %q", rawurl)
	}
	cfg := global
	cfg.Protocol = u.Scheme
	cfg.Host = u.Hostname()
	cfg.Port = 0
	if u.Port() != "" {
		cfg.Port, err = strconv.Atoi(u.Port())
		if err != nil {
			return nil, errors.Wrapf(err, "invalid port in %q", rawurl)
		}
	}
	return NewHost(cfg)
}

func (h *Host) String() string {
	return h.baseURL
}

func (h *Host) Get(ctx context.Context, path string) (*Response, error) {
	return h.do(ctx, http.MethodGet, path, nil)
}

// Post sends body as-is when it is a []byte or string, otherwise as
// JSON.
func (h *Host) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return h.do(ctx, http.MethodPost, path, body)
}

func (h *Host) do(ctx context.Context, method, path string, body interface{}) (resp *Response, err error) {
	endpoint := h.baseURL + "/" + strings.TrimPrefix(path, "/")

	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		rd = bytes.NewReader(b)
	case string:
		rd = strings.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding %s body", path)
		}
		rd = bytes.NewReader(buf)
	}

	if h.limiter != nil {
		err = h.limiter.Wait(ctx)
		if err != nil {
			return nil, &TransportError{URL: endpoint, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return nil, errors.Wrapf(err, "building request for %s", endpoint)
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json, text/plain, */*")
	}
	if h.Config.Network != "" {
		req.Header.Set("x-network", h.Config.Network)
	}

	h.logf("Requesting: %s %s", method, endpoint)
	res, err := h.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: endpoint, Err: err}
	}
	defer res.Body.Close()
	limit := h.Config.MaxContentLength
	data, err := ioutil.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		return nil, &TransportError{URL: endpoint, Err: err}
	}
	if int64(len(data)) > limit {
		return nil, &TransportError{URL: endpoint, Err: errors.Wrapf(ErrTooLarge, "%d bytes", limit)}
	}
	h.logf("Response:   %s - %d", endpoint, res.StatusCode)
	resp = &Response{Status: res.StatusCode, Data: data, Header: res.Header}
	return
}

func (h *Host) logf(format string, args ...interface{}) {
	if h.Config.Logging {
		log.Infof(format, args...)
		return
	}
	log.Debugf(format, args...)
}
