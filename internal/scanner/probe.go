package scanner

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/caihongdao/antbox-monitor/internal/config"
	"github.com/caihongdao/antbox-monitor/internal/pingclient"
)

//go:generate mockgen -source=probe.go -destination=mock_probe_test.go -package=scanner

const htmlAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

// Pinger performs reachability checks through the external probe service.
type Pinger interface {
	Ping(ctx context.Context, req pingclient.Request) (pingclient.Result, error)
}

// Dialer opens raw TCP connections for device APIs that do not speak HTTP.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// NewHTTPClient returns the client used for device probes. Connections are
// never reused since every target is contacted a handful of times at most.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
			DisableKeepAlives:   true,
			MaxIdleConnsPerHost: -1,
		},
	}
}

// HostProber determines whether a single address hosts an interesting device.
type HostProber struct {
	classifier     *Classifier
	pinger         Pinger
	dialer         Dialer
	pingCount      int
	pingTimeout    int
	cgminerPort    int
	cgminerTimeout time.Duration
	logger         *zap.SugaredLogger
}

// NewHostProber creates a prober. A nil pinger disables reachability checks,
// a nil dialer falls back to net.Dialer.
func NewHostProber(cfg config.ScannerConfig, pingCfg config.PingConfig, pinger Pinger, classifier *Classifier, dialer Dialer, logger *zap.SugaredLogger) *HostProber {
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	count := pingCfg.Count
	if count <= 0 {
		count = 2
	}
	timeout := pingCfg.Timeout
	if timeout <= 0 {
		timeout = 1
	}

	return &HostProber{
		classifier:     classifier,
		pinger:         pinger,
		dialer:         dialer,
		pingCount:      count,
		pingTimeout:    timeout,
		cgminerPort:    cfg.CGMinerPort,
		cgminerTimeout: millis(cfg.CGMinerTimeout, 1500*time.Millisecond),
		logger:         logger,
	}
}

// Probe checks one address and returns its outcome, or nil when nothing
// answered. Network failures only degrade the outcome. The returned error is
// always ErrProbeAborted: ctx is consulted between stages, while calls already
// in flight run to their own deadline.
func (p *HostProber) Probe(ctx context.Context, address string, req ScanRequest) (*ProbeOutcome, error) {
	netCtx := context.WithoutCancel(ctx)

	ping := p.ping(netCtx, address)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProbeAborted, err)
	}

	build := func(category Category, status Status, md Metadata) *ProbeOutcome {
		return &ProbeOutcome{
			Address:    address,
			Port:       req.Port,
			Category:   category,
			Status:     status,
			Metadata:   md,
			Ping:       &ping,
			DetectedAt: time.Now(),
		}
	}

	baseURL := "http://" + net.JoinHostPort(address, strconv.Itoa(req.Port))

	var filtered *Classification
	body, _, err := p.classifier.get(netCtx, baseURL+"/", req.Timeout, htmlAccept)
	if err == nil {
		cls := p.classifier.Classify(netCtx, baseURL, body)
		if req.ScanType.Accepts(cls.Category) {
			return build(cls.Category, StatusOnline, cls.Metadata), nil
		}
		filtered = &cls
	} else {
		p.logger.Debugw("HTTP probe failed", "ip", address, "port", req.Port, "error", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProbeAborted, err)
	}

	if category, path, ok := p.classifier.DetectByAPI(netCtx, baseURL, req.ScanType.Categories()); ok {
		return build(category, StatusAPIOnly, Metadata{API: path}), nil
	}

	if p.cgminerPort > 0 && req.ScanType.Accepts(CategoryMiner) {
		if md, ok := p.queryCGMiner(netCtx, address); ok {
			return build(CategoryMiner, StatusAPIOnly, md), nil
		}
	}

	if ping.Success {
		if filtered != nil {
			// Answered over HTTP but not the requested kind; still worth listing.
			return build(filtered.Category, StatusOnline, filtered.Metadata), nil
		}
		return build(CategoryUnknown, StatusPingOnly, Metadata{Note: "reachable by ping only"}), nil
	}

	return nil, nil
}

func (p *HostProber) ping(ctx context.Context, address string) PingMetrics {
	if p.pinger == nil {
		return PingMetrics{PacketLoss: 100, Error: pingclient.ErrDisabled.Error()}
	}

	res, err := p.pinger.Ping(ctx, pingclient.Request{
		IP:      address,
		Count:   p.pingCount,
		Timeout: p.pingTimeout,
	})
	if err != nil {
		p.logger.Debugw("Ping probe failed", "ip", address, "error", err)
		res = pingclient.Failed(err)
	}

	return PingMetrics{
		Success:    res.Success,
		LatencyMS:  res.Latency,
		PacketLoss: res.PacketLoss,
		TTL:        res.TTL,
		Error:      res.Error,
	}
}
