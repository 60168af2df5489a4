package tokens

import (
	"io"
	"net/http"
	"time"

	"token-broker/internal/common/logging"
	"token-broker/internal/metrics"
)

// Transport injects bearer tokens into requests for registered destinations.
//
// Requests whose URL matches no destination pass through untouched. When a
// destination answers 401 the cached token is invalidated and the request
// is sent once more with a fresh token, provided its body can be replayed.
type Transport struct {
	Registry *Registry
	// Base defaults to http.DefaultTransport
	Base    http.RoundTripper
	Metrics metrics.Sink
	Logger  logging.Logger
}

// NewTransport wraps base
func NewTransport(registry *Registry, base http.RoundTripper) *Transport {
	return &Transport{Registry: registry, Base: base}
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	m, ok := t.Registry.FindByURL(req.URL.String())
	if !ok {
		return t.base().RoundTrip(req)
	}

	resp, err := t.send(req, m)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || !replayable(req) {
		return resp, err
	}

	t.logger().Warn("Destination rejected token, retrying with a new one",
		logging.String("destination", m.Destination()),
		logging.String("method", req.Method),
	)
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	m.Invalidate()

	retryReq := req
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retryReq = req.Clone(req.Context())
		retryReq.Body = body
	}
	return t.send(retryReq, m)
}

func (t *Transport) send(req *http.Request, m *Manager) (*http.Response, error) {
	token, err := m.GetToken(req.Context())
	if err != nil {
		return nil, err
	}

	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := t.base().RoundTrip(out)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	t.sink().HTTPRequest(m.Destination(), req.Method, status, time.Since(start))
	return resp, err
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) sink() metrics.Sink {
	if t.Metrics != nil {
		return t.Metrics
	}
	return metrics.Nop{}
}

func (t *Transport) logger() logging.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return logging.GetGlobalLogger()
}
