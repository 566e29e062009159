package probe

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"golang.org/x/time/rate"
)

const (
	// DefaultForceCanaryHeader is the request header the mesh matches
	// to route a request to the canary regardless of the weight split.
	DefaultForceCanaryHeader = "X-Canary"
	// DefaultForceCanaryValue is the value sent with the header.
	DefaultForceCanaryValue = "always"

	defaultTimeout     = 5 * time.Second
	defaultConcurrency = 4
)

// Observation is the outcome of a single synthetic request: which
// version answered, and whether the response counts as a success
// (received within the timeout, 2xx status).
type Observation struct {
	Version string `json:"version"`
	Success bool   `json:"success"`
}

// BatchResult aggregates a probe batch. The counts are independent
// of the order in which responses arrived.
type BatchResult struct {
	Samples   int            `json:"samples"`
	Successes int            `json:"successes"`
	MinRatio  float64        `json:"minRatio"`
	Versions  map[string]int `json:"versions,omitempty"`
	Pass      bool           `json:"pass"`
}

// Ratio is successes over samples; zero samples is defined as 0.
func (r BatchResult) Ratio() float64 {
	if r.Samples == 0 {
		return 0
	}
	return float64(r.Successes) / float64(r.Samples)
}

// Config for a Prober. Zero values fall back to defaults.
type Config struct {
	// Target is the URL probed, e.g. the mesh gateway address.
	Target string
	// ForceCanaryHeader and ForceCanaryValue name the header-match
	// override configured in the routing rule.
	ForceCanaryHeader string
	ForceCanaryValue  string
	// Timeout bounds each individual request.
	Timeout time.Duration
	// Concurrency bounds in-flight probes during a batch.
	Concurrency int
	// Interval paces probes within a batch; zero means no pacing.
	Interval time.Duration
}

// Prober issues synthetic requests against a target endpoint and
// classifies responses by version tag and success.
type Prober struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  log.Logger
}

func NewProber(cfg Config, logger log.Logger) *Prober {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.ForceCanaryHeader == "" {
		cfg.ForceCanaryHeader = DefaultForceCanaryHeader
	}
	if cfg.ForceCanaryValue == "" {
		cfg.ForceCanaryValue = DefaultForceCanaryValue
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.Interval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.Interval), 1)
	}
	return &Prober{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger,
	}
}

// versionBody is the demo endpoint's response shape; only the
// version field matters here.
type versionBody struct {
	Version string `json:"version"`
}

// Probe issues one request. When forceCanary is set, the override
// header is attached so the mesh routes to the canary no matter what
// the split says. A transport failure is an unsuccessful
// observation, not an error; the error return is reserved for
// context cancellation and malformed configuration.
func (p *Prober) Probe(ctx context.Context, forceCanary bool) (obs Observation, err error) {
	defer func(start time.Time) {
		observeProbe(start, obs.Success)
	}(time.Now())

	req, err := http.NewRequest("GET", p.cfg.Target, nil)
	if err != nil {
		return Observation{}, err
	}
	req = req.WithContext(ctx)
	if forceCanary {
		req.Header.Set(p.cfg.ForceCanaryHeader, p.cfg.ForceCanaryValue)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Observation{}, ctx.Err()
		}
		p.logger.Log("probe", "failed", "err", err)
		return Observation{}, nil
	}
	defer resp.Body.Close()

	obs = Observation{Success: resp.StatusCode >= 200 && resp.StatusCode < 300}
	var body versionBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		obs.Version = body.Version
	}
	return obs, nil
}

// ValidateBatch runs n probes force-routed to the canary and passes
// if successes/n >= minRatio. Probes run with bounded concurrency;
// the aggregation is count-based, so the result does not depend on
// arrival order. Any transport error counts as a failed sample,
// never as a skipped one. The only way out without a result is the
// context being cancelled.
func (p *Prober) ValidateBatch(ctx context.Context, n int, minRatio float64) (BatchResult, error) {
	result := BatchResult{
		Samples:  n,
		MinRatio: minRatio,
		Versions: map[string]int{},
	}

	type sample struct {
		obs Observation
		err error
	}

	var (
		wg      sync.WaitGroup
		samples = make(chan sample, n)
		work    = make(chan struct{}, n)
	)
	for i := 0; i < n; i++ {
		work <- struct{}{}
	}
	close(work)

	workers := p.cfg.Concurrency
	if workers > n {
		workers = n
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range work {
				if err := p.limiter.Wait(ctx); err != nil {
					samples <- sample{err: err}
					continue
				}
				obs, err := p.Probe(ctx, true)
				samples <- sample{obs: obs, err: err}
			}
		}()
	}
	wg.Wait()
	close(samples)

	for s := range samples {
		if s.err != nil {
			if ctx.Err() != nil {
				return BatchResult{}, ctx.Err()
			}
			// fails closed: an errored sample is a failed sample
			continue
		}
		if s.obs.Success {
			result.Successes++
		}
		if s.obs.Version != "" {
			result.Versions[s.obs.Version]++
		}
	}

	result.Pass = result.Ratio() >= minRatio
	return result, nil
}
