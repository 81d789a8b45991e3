package scanner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/caihongdao/antbox-monitor/internal/config"
)

// HTTPDoer is the subset of *http.Client used for probing devices.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Endpoint is a device API path and the substrings that identify a positive answer.
type Endpoint struct {
	Path        string
	Markers     []string
	TextualOnly bool // require a JSON or text content type
}

// CategoryRule describes how a device category is recognized.
type CategoryRule struct {
	Category Category
	// Keywords are matched case-insensitively against the landing page body.
	Keywords []string
	// Verify endpoints confirm a category when no keyword matched.
	Verify []Endpoint
	// Fallback endpoints are tried when the landing page itself is unreachable.
	Fallback []Endpoint
}

// DefaultRules returns the built-in rule set. AntBox rules take precedence
// over miner rules.
func DefaultRules() []CategoryRule {
	return []CategoryRule{
		{
			Category: CategoryAntBox,
			Keywords: []string{"AntBox", "cooler", "冷却", "矿机冷却", "minerInfo", "sensorData"},
			Verify: []Endpoint{
				{Path: "/cooler?operation=coolerState", Markers: []string{"operation", "coolerState"}},
			},
			Fallback: []Endpoint{
				{Path: "/cooler?operation=coolerState", Markers: antboxAPIMarkers, TextualOnly: true},
				{Path: "/cooler?operation=sensorData", Markers: antboxAPIMarkers, TextualOnly: true},
				{Path: "/cooler?operation=minerInfo", Markers: antboxAPIMarkers, TextualOnly: true},
				{Path: "/api/status", Markers: antboxAPIMarkers, TextualOnly: true},
				{Path: "/api/info", Markers: antboxAPIMarkers, TextualOnly: true},
			},
		},
		{
			Category: CategoryMiner,
			Keywords: []string{"antminer", "whatsminer", "avalon", "miner", "矿机", "算力", "hashrate"},
			Verify: []Endpoint{
				{Path: "/cgi-bin/miner_status.cgi", Markers: []string{"hashrate", "temperature"}},
			},
			Fallback: []Endpoint{
				{Path: "/cgi-bin/miner_status.cgi", Markers: minerAPIMarkers},
				{Path: "/cgi-bin/get_miner_status.cgi", Markers: minerAPIMarkers},
				{Path: "/api/v1/status", Markers: minerAPIMarkers},
				{Path: "/api/status", Markers: minerAPIMarkers},
				{Path: "/stats", Markers: minerAPIMarkers},
			},
		},
	}
}

var (
	antboxAPIMarkers = []string{`"operation"`, "coolerState", "sensorData"}
	minerAPIMarkers  = []string{"hashrate", "temperature", "fan", "miner"}
)

// Classification is the classifier verdict for one landing page.
type Classification struct {
	Category Category
	Metadata Metadata
}

// Classifier decides the device category of a host from its HTTP responses.
type Classifier struct {
	rules           []CategoryRule
	client          HTTPDoer
	userAgent       string
	verifyTimeout   time.Duration
	fallbackTimeout time.Duration
	maxBodyBytes    int64
	logger          *zap.SugaredLogger
}

// NewClassifier creates a classifier from the given rules. Keyword lists in
// cfg.Classifier replace the defaults of their category.
func NewClassifier(cfg config.ScannerConfig, rules []CategoryRule, client HTTPDoer, logger *zap.SugaredLogger) *Classifier {
	rules = append([]CategoryRule(nil), rules...)
	for i := range rules {
		switch rules[i].Category {
		case CategoryAntBox:
			if len(cfg.Classifier.AntBoxKeywords) > 0 {
				rules[i].Keywords = cfg.Classifier.AntBoxKeywords
			}
		case CategoryMiner:
			if len(cfg.Classifier.MinerKeywords) > 0 {
				rules[i].Keywords = cfg.Classifier.MinerKeywords
			}
		}
	}

	return &Classifier{
		rules:           rules,
		client:          client,
		userAgent:       cfg.UserAgent,
		verifyTimeout:   millis(cfg.VerifyTimeout, 1500*time.Millisecond),
		fallbackTimeout: millis(cfg.EndpointTimeout, time.Second),
		maxBodyBytes:    maxBody(cfg.MaxBodyBytes),
		logger:          logger,
	}
}

// MatchKeywords returns the first category whose keywords appear in body.
func (c *Classifier) MatchKeywords(body string) (Category, bool) {
	lower := strings.ToLower(body)
	for _, rule := range c.rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return rule.Category, true
			}
		}
	}
	return CategoryUnknown, false
}

// Classify decides the category of the device serving body at baseURL.
// Keywords are checked first; on a miss the verify endpoints of every rule
// are queried in rule order and the first positive answer wins.
func (c *Classifier) Classify(ctx context.Context, baseURL, body string) Classification {
	category, ok := c.MatchKeywords(body)
	if !ok {
		category = c.verify(ctx, baseURL)
	}

	return Classification{
		Category: category,
		Metadata: c.ExtractMetadata(category, body),
	}
}

func (c *Classifier) verify(ctx context.Context, baseURL string) Category {
	for _, rule := range c.rules {
		for _, ep := range rule.Verify {
			if c.probeEndpoint(ctx, baseURL, ep, c.verifyTimeout) {
				return rule.Category
			}
		}
	}
	return CategoryUnknown
}

// DetectByAPI walks the fallback endpoints of the given categories in order
// and returns the first category whose API answered with a marker.
func (c *Classifier) DetectByAPI(ctx context.Context, baseURL string, categories []Category) (Category, string, bool) {
	for _, cat := range categories {
		rule, ok := c.rule(cat)
		if !ok {
			continue
		}
		for _, ep := range rule.Fallback {
			if ctx.Err() != nil {
				return CategoryUnknown, "", false
			}
			if c.probeEndpoint(ctx, baseURL, ep, c.fallbackTimeout) {
				return cat, ep.Path, true
			}
		}
	}
	return CategoryUnknown, "", false
}

func (c *Classifier) rule(cat Category) (CategoryRule, bool) {
	for _, r := range c.rules {
		if r.Category == cat {
			return r, true
		}
	}
	return CategoryRule{}, false
}

func (c *Classifier) probeEndpoint(ctx context.Context, baseURL string, ep Endpoint, timeout time.Duration) bool {
	body, contentType, err := c.get(ctx, baseURL+ep.Path, timeout, "application/json,text/plain,*/*")
	if err != nil {
		c.logger.Debugw("Endpoint probe failed", "url", baseURL+ep.Path, "error", err)
		return false
	}

	if ep.TextualOnly && !strings.Contains(contentType, "json") && !strings.Contains(contentType, "text") {
		return false
	}

	for _, m := range ep.Markers {
		if strings.Contains(body, m) {
			return true
		}
	}
	return false
}

// get issues a bounded GET and returns the body of a 2xx response.
func (c *Classifier) get(ctx context.Context, url string, timeout time.Duration, accept string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}
	req.Close = true
	req.Header.Set("Accept", accept)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		return "", "", err
	}
	return string(data), strings.ToLower(resp.Header.Get("Content-Type")), nil
}

// extractor pulls one metadata field out of a landing page.
type extractor struct {
	pattern *regexp.Regexp
	apply   func(m []string, md *Metadata)
}

var titleExtractor = extractor{
	pattern: regexp.MustCompile(`(?is)<title>(.*?)</title>`),
	apply:   func(m []string, md *Metadata) { md.Title = strings.TrimSpace(m[1]) },
}

var metadataExtractors = map[Category][]extractor{
	CategoryAntBox: {
		{
			pattern: regexp.MustCompile(`(?i)(?:版本|version)[\s:：]*v?([\d.]+)`),
			apply:   func(m []string, md *Metadata) { md.Version = m[1] },
		},
		{
			pattern: regexp.MustCompile(`(?i)(?:总功耗|total power)[\s:：]*([\d.]+)`),
			apply:   func(m []string, md *Metadata) { md.Power = m[1] },
		},
	},
	CategoryMiner: {
		{
			pattern: regexp.MustCompile(`(?i)(antminer|whatsminer|avalon)[\s\-]*([\w\d]+)`),
			apply:   func(m []string, md *Metadata) { md.Model = m[0] },
		},
		{
			pattern: regexp.MustCompile(`(?i)(\d+\.?\d*)\s*(TH/s|GH/s|MH/s)`),
			apply:   func(m []string, md *Metadata) { md.Hashrate = m[0] },
		},
	},
}

// ExtractMetadata returns whatever fields of the category's patterns match body.
func (c *Classifier) ExtractMetadata(category Category, body string) Metadata {
	var md Metadata
	if body == "" {
		return md
	}

	if m := titleExtractor.pattern.FindStringSubmatch(body); m != nil {
		titleExtractor.apply(m, &md)
	}
	for _, ex := range metadataExtractors[category] {
		if m := ex.pattern.FindStringSubmatch(body); m != nil {
			ex.apply(m, &md)
		}
	}
	return md
}

func millis(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func maxBody(n int64) int64 {
	if n <= 0 {
		return 1 << 20
	}
	return n
}
