// Package browser owns the headless Chrome process, vends isolated contexts
// and drives the snapshot pipeline.
package browser

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/avlecchia/lectern/internal/metrics"
	"github.com/avlecchia/lectern/internal/reader"
)

//go:embed assets/inject.js
var injectScript string

// snapshotBinding is the page-world hook bridging in-page parses to the host.
const snapshotBinding = "reportSnapshot"

// PoolConfig controls the browser pool.
type PoolConfig struct {
	UserAgent      string
	NavTimeout     time.Duration
	MaxContexts    int // 0 derives the bound from free memory at startup
	ViewportWidth  int
	ViewportHeight int
}

// Pool owns one headless browser and vends per-request isolated contexts.
// Contexts are single-use: release always destroys.
type Pool struct {
	cfg    PoolConfig
	logger *zap.Logger
	sem    chan struct{}

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	crippled      bool
	closed        bool
}

// NewPool launches the browser. Launch failure is fatal to the pool.
func NewPool(cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user agent is required")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 1920
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 1080
	}
	maxContexts := cfg.MaxContexts
	if maxContexts <= 0 {
		maxContexts = defaultMaxContexts()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		cfg:    cfg,
		logger: logger,
		sem:    make(chan struct{}, maxContexts),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.launchLocked(); err != nil {
		return nil, reader.WrapError(reader.KindUpstreamBrowserFailure, "launch browser", err)
	}
	logger.Info("browser pool ready", zap.Int("max_contexts", maxContexts))
	return p, nil
}

// MaxContexts returns the pool's admission bound.
func (p *Pool) MaxContexts() int {
	return cap(p.sem)
}

// Crippled reports whether the pool lost its browser and has not yet
// relaunched it successfully.
func (p *Pool) Crippled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.crippled
}

// defaultMaxContexts derives the pool bound from free memory at startup:
// one context plus one per free GiB, at least one.
func defaultMaxContexts() int {
	return 1 + freeMemGiB()
}

func freeMemGiB() int {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return int(kb / (1024 * 1024))
	}
	return 0
}

// launchLocked starts the allocator and the shared browser context. Callers
// hold p.mu.
func (p *Pool) launchLocked() error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.UserAgent(p.cfg.UserAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("browser warmup: %w", err)
	}
	p.allocCancel = allocCancel
	p.browserCtx = browserCtx
	p.browserCancel = browserCancel
	p.crippled = false
	return nil
}

// teardownLocked cancels the current browser and allocator.
func (p *Pool) teardownLocked() {
	if p.browserCancel != nil {
		p.browserCancel()
		p.browserCancel = nil
	}
	if p.allocCancel != nil {
		p.allocCancel()
		p.allocCancel = nil
	}
}

// Acquire creates a fresh isolated context configured for one request. When
// the browser has disconnected, one relaunch is attempted; a second
// consecutive failure surfaces as an upstream browser error.
func (p *Pool) Acquire(ctx context.Context, opts reader.RequestOptions) (*Context, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}

	tab, err := p.newContext(ctx, opts)
	if err != nil {
		p.logger.Warn("context creation failed, relaunching browser", zap.Error(err))
		if relaunchErr := p.relaunch(); relaunchErr != nil {
			<-p.sem
			return nil, reader.WrapError(reader.KindUpstreamBrowserFailure, "relaunch browser", relaunchErr)
		}
		metrics.ObserveBrowserRelaunch()
		tab, err = p.newContext(ctx, opts)
		if err != nil {
			<-p.sem
			return nil, reader.WrapError(reader.KindUpstreamBrowserFailure, "create browser context", err)
		}
	}
	metrics.ObserveBrowserAcquire()
	return tab, nil
}

func (p *Pool) relaunch() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("pool is closed")
	}
	p.crippled = true
	p.teardownLocked()
	if err := p.launchLocked(); err != nil {
		return err
	}
	return nil
}

// newContext builds a tab context with the request's configuration applied.
func (p *Pool) newContext(ctx context.Context, opts reader.RequestOptions) (*Context, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool is closed")
	}
	base := p.browserCtx
	p.mu.Unlock()

	var extraCancel context.CancelFunc
	if opts.ProxyURL != "" {
		// A proxy applies per browser process, so proxied requests get a
		// dedicated ephemeral allocator torn down with the context.
		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", "new"),
			chromedp.Flag("disable-gpu", true),
			chromedp.UserAgent(p.cfg.UserAgent),
			chromedp.ProxyServer(opts.ProxyURL),
		)
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
		base = allocCtx
		extraCancel = allocCancel
	}

	tabCtx, tabCancel := chromedp.NewContext(base)
	c := &Context{
		pool:        p,
		ctx:         tabCtx,
		cancel:      tabCancel,
		extraCancel: extraCancel,
	}

	chromedp.ListenTarget(tabCtx, c.handleEvent)

	setup := []chromedp.Action{
		network.Enable(),
		emulation.SetUserAgentOverride(p.cfg.UserAgent),
		emulation.SetDeviceMetricsOverride(int64(p.cfg.ViewportWidth), int64(p.cfg.ViewportHeight), 1, false),
		runtime.AddBinding(snapshotBinding),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(injectScript).Do(ctx)
			return err
		}),
	}
	for _, raw := range opts.Cookies {
		if action := setCookieAction(raw); action != nil {
			setup = append(setup, action)
		}
	}
	if err := chromedp.Run(tabCtx, setup...); err != nil {
		c.destroy()
		return nil, fmt.Errorf("configure context: %w", err)
	}
	return c, nil
}

// setCookieAction parses one Set-Cookie header value into a CDP action.
func setCookieAction(raw string) chromedp.Action {
	header := http.Header{"Set-Cookie": {raw}}
	resp := http.Response{Header: header}
	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return nil
	}
	ck := cookies[0]
	return chromedp.ActionFunc(func(ctx context.Context) error {
		param := network.SetCookie(ck.Name, ck.Value).
			WithSecure(ck.Secure).
			WithHTTPOnly(ck.HttpOnly)
		if ck.Path != "" {
			param = param.WithPath(ck.Path)
		}
		if ck.Domain != "" {
			param = param.WithDomain(ck.Domain)
		}
		if !ck.Expires.IsZero() {
			epoch := cdp.TimeSinceEpoch(ck.Expires)
			param = param.WithExpires(&epoch)
		}
		// A malformed forwarded cookie must not sink the whole request.
		_ = param.Do(ctx)
		return nil
	})
}

// Close tears down the browser and rejects further acquires.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.teardownLocked()
}

// Context is one isolated tab lent to a single request.
type Context struct {
	pool        *Pool
	ctx         context.Context
	cancel      context.CancelFunc
	extraCancel context.CancelFunc

	handlerMu sync.Mutex
	onSnap    func(reader.Snapshot)

	releaseOnce sync.Once
}

// OnSnapshot installs the handler invoked for each in-page snapshot report.
func (c *Context) OnSnapshot(fn func(reader.Snapshot)) {
	c.handlerMu.Lock()
	c.onSnap = fn
	c.handlerMu.Unlock()
}

func (c *Context) handleEvent(ev any) {
	bound, ok := ev.(*runtime.EventBindingCalled)
	if !ok || bound.Name != snapshotBinding {
		return
	}
	var snap reader.Snapshot
	if err := json.Unmarshal([]byte(bound.Payload), &snap); err != nil {
		return
	}
	c.handlerMu.Lock()
	fn := c.onSnap
	c.handlerMu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

// Run executes chromedp actions against the tab.
func (c *Context) Run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := c.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(runCtx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

// Screenshot captures the current viewport.
func (c *Context) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := c.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// Extract runs one synchronous in-page readability parse.
func (c *Context) Extract(ctx context.Context) (reader.Snapshot, error) {
	var snap reader.Snapshot
	if err := c.Run(ctx, chromedp.Evaluate("window.__lecternReader.extract()", &snap)); err != nil {
		return reader.Snapshot{}, fmt.Errorf("in-page extract: %w", err)
	}
	return snap, nil
}

// Release destroys the context and returns its pool slot. Contexts are never
// reused across requests.
func (c *Context) Release() {
	c.releaseOnce.Do(func() {
		c.destroy()
		<-c.pool.sem
		metrics.ObserveBrowserRelease()
	})
}

func (c *Context) destroy() {
	c.cancel()
	if c.extraCancel != nil {
		c.extraCancel()
	}
}
