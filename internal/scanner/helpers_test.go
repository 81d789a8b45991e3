package scanner

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/caihongdao/antbox-monitor/internal/config"
	"github.com/caihongdao/antbox-monitor/internal/pingclient"
)

var errRefused = errors.New("connection refused")

type route func(req *http.Request) (*http.Response, error)

// fakeNetwork answers HTTP requests by host. Unknown hosts refuse the connection.
type fakeNetwork struct {
	mu     sync.Mutex
	routes map[string]route
	hits   map[string]int
}

func newFakeNetwork(routes map[string]route) *fakeNetwork {
	return &fakeNetwork{routes: routes, hits: make(map[string]int)}
}

func (f *fakeNetwork) Do(req *http.Request) (*http.Response, error) {
	host := req.URL.Hostname()

	f.mu.Lock()
	f.hits[host]++
	r, ok := f.routes[host]
	f.mu.Unlock()

	if !ok {
		return nil, errRefused
	}
	return r(req)
}

func respond(status int, contentType, body string) *http.Response {
	h := make(http.Header)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// pages serves fixed bodies keyed by request URI; anything else is a 404.
func pages(contentType string, byURI map[string]string) route {
	return func(req *http.Request) (*http.Response, error) {
		body, ok := byURI[req.URL.RequestURI()]
		if !ok {
			return respond(http.StatusNotFound, "text/plain", "not found"), nil
		}
		return respond(http.StatusOK, contentType, body), nil
	}
}

// hang never answers; the request fails when its deadline expires.
func hang(req *http.Request) (*http.Response, error) {
	<-req.Context().Done()
	return nil, req.Context().Err()
}

type pingerFunc func(ctx context.Context, req pingclient.Request) (pingclient.Result, error)

func (f pingerFunc) Ping(ctx context.Context, req pingclient.Request) (pingclient.Result, error) {
	return f(ctx, req)
}

// reachable answers pings for the listed addresses only.
func reachable(addresses ...string) pingerFunc {
	set := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		set[a] = true
	}
	return func(_ context.Context, req pingclient.Request) (pingclient.Result, error) {
		if set[req.IP] {
			return pingclient.Result{Success: true, Latency: 1.5, TTL: 64}, nil
		}
		return pingclient.Result{Success: false, PacketLoss: 100, Error: "timeout"}, nil
	}
}

type refusingDialer struct{}

func (refusingDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	return nil, errRefused
}

func testScannerConfig() config.ScannerConfig {
	return config.ScannerConfig{
		Port:                80,
		Timeout:             100,
		Concurrency:         20,
		MaxConcurrency:      999,
		MaxAddresses:        65536,
		ScanType:            "all",
		UserAgent:           "antbox-scanner-test",
		EndpointTimeout:     20,
		VerifyTimeout:       20,
		MaxBodyBytes:        1 << 16,
		CGMinerPort:         4028,
		CGMinerTimeout:      50,
		ProgressLogInterval: 5,
	}
}

func newTestProber(cfg config.ScannerConfig, doer HTTPDoer, pinger Pinger, dialer Dialer) *HostProber {
	logger := zap.NewNop().Sugar()
	classifier := NewClassifier(cfg, DefaultRules(), doer, logger)
	return NewHostProber(cfg, config.PingConfig{Count: 1, Timeout: 1}, pinger, classifier, dialer, logger)
}

func newTestScanner(cfg config.ScannerConfig, doer HTTPDoer, pinger Pinger, sinks ...EventSink) *Scanner {
	return New(cfg, newTestProber(cfg, doer, pinger, refusingDialer{}), zap.NewNop().Sugar(), sinks...)
}

func newTestClassifier(cfg config.ScannerConfig, doer HTTPDoer) *Classifier {
	return NewClassifier(cfg, DefaultRules(), doer, zap.NewNop().Sugar())
}
