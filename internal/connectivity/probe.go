package connectivity

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

// ProbeConfig holds ProbeSource settings.
type ProbeConfig struct {
	URL      string        // Endpoint to probe; any 2xx response means online
	Interval time.Duration // Time between probes
	Timeout  time.Duration // Per-probe timeout
	Client   *http.Client
	Logger   *log.Logger
}

// DefaultProbeConfig returns probe settings for url.
func DefaultProbeConfig(url string) ProbeConfig {
	return ProbeConfig{
		URL:      url,
		Interval: 10 * time.Second,
		Timeout:  3 * time.Second,
	}
}

// ProbeSource polls an HTTP endpoint and reports online while it answers
// with a 2xx status.
type ProbeSource struct {
	broadcaster

	config ProbeConfig
	client *http.Client
	logger *log.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewProbeSource creates a ProbeSource. It starts offline until the
// first probe completes.
func NewProbeSource(config ProbeConfig) *ProbeSource {
	if config.Interval <= 0 {
		config.Interval = 10 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 3 * time.Second
	}
	client := config.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[monitor] ", log.LstdFlags)
	}
	return &ProbeSource{
		config: config,
		client: client,
		logger: logger,
	}
}

// Start probes once synchronously, then keeps probing on the interval.
func (p *ProbeSource) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("probe source already running")
	}
	if p.config.URL == "" {
		return fmt.Errorf("probe URL is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.check(ctx)

	p.wg.Add(1)
	go p.loop(ctx)
	return nil
}

// Close stops probing and waits for the loop to exit.
func (p *ProbeSource) Close() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *ProbeSource) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.check(ctx)
		}
	}
}

func (p *ProbeSource) check(ctx context.Context) {
	s := p.probe(ctx)
	if ctx.Err() != nil {
		return
	}
	if s == p.current() {
		return
	}
	p.logger.Printf("Probe %s reports %s", p.config.URL, s)
	p.publish(s)
}

func (p *ProbeSource) probe(ctx context.Context) State {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.URL, nil)
	if err != nil {
		return Offline
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Offline
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Online
	}
	return Offline
}
