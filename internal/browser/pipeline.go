package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/avlecchia/lectern/internal/progress"
	"github.com/avlecchia/lectern/internal/reader"
)

// networkQuiet is the settle window after the last in-flight request before
// navigation counts as idle.
const networkQuiet = 500 * time.Millisecond

// Pipeline drives page loads and streams progressive snapshots to callers.
type Pipeline struct {
	pool           *Pool
	hasher         reader.Hasher
	hub            *progress.Hub
	clock          reader.Clock
	logger         *zap.Logger
	domainQPS      float64
	domainLimiters sync.Map
}

// NewPipeline wires the pipeline's collaborators. domainQPS > 0 budgets
// navigations per target host.
func NewPipeline(pool *Pool, hasher reader.Hasher, hub *progress.Hub, clock reader.Clock, domainQPS float64, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		pool:      pool,
		hasher:    hasher,
		hub:       hub,
		clock:     clock,
		logger:    logger,
		domainQPS: domainQPS,
	}
}

// waitDomainBudget rate-limits navigations per host.
func (p *Pipeline) waitDomainBudget(ctx context.Context, host string) error {
	if p.domainQPS <= 0 {
		return nil
	}
	val, _ := p.domainLimiters.LoadOrStore(strings.ToLower(host), rate.NewLimiter(rate.Limit(p.domainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait domain budget: %w", err)
	}
	return nil
}

// Scrape acquires a context and begins one page load. The returned channel
// is unbuffered: the producer suspends until the consumer takes each
// PageResult, and the last received item is always the post-settle final
// parse. The channel closes when the load settles, the caller's context
// ends, or the load fails.
func (p *Pipeline) Scrape(ctx context.Context, rawURL string, opts reader.RequestOptions) (<-chan reader.PageResult, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, reader.NewError(reader.KindInvalidArgument, fmt.Sprintf("invalid url %q", rawURL))
	}
	if err := p.waitDomainBudget(ctx, parsed.Host); err != nil {
		return nil, err
	}

	tab, err := p.pool.Acquire(ctx, opts)
	if err != nil {
		return nil, err
	}

	out := make(chan reader.PageResult)
	go p.run(ctx, tab, rawURL, out)
	return out, nil
}

// rendezvous is the single-slot latest-snapshot exchange between the CDP
// event handler and the pipeline loop. A newer parse replaces an unconsumed
// older one.
type rendezvous struct {
	mu      sync.Mutex
	slot    *reader.Snapshot
	notify  chan struct{}
	lastSum string
	hasher  reader.Hasher
}

func newRendezvous(hasher reader.Hasher) *rendezvous {
	return &rendezvous{notify: make(chan struct{}, 1), hasher: hasher}
}

// offer stores a snapshot unless it matches the previous one by digest.
func (r *rendezvous) offer(snap reader.Snapshot) {
	sum := r.digest(snap)
	r.mu.Lock()
	if sum != "" && sum == r.lastSum {
		r.mu.Unlock()
		return
	}
	r.lastSum = sum
	r.slot = &snap
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// take removes and returns the pending snapshot, if any.
func (r *rendezvous) take() (reader.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slot == nil {
		return reader.Snapshot{}, false
	}
	snap := *r.slot
	r.slot = nil
	return snap, true
}

func (r *rendezvous) digest(snap reader.Snapshot) string {
	if r.hasher == nil {
		return ""
	}
	sum, err := r.hasher.Hash([]byte(snap.Title + "\x00" + snap.Content + "\x00" + snap.TextContent))
	if err != nil {
		return ""
	}
	return sum
}

func (p *Pipeline) run(ctx context.Context, tab *Context, rawURL string, out chan<- reader.PageResult) {
	started := time.Now()
	defer close(out)
	defer tab.Release()

	p.emit(progress.Event{Stage: progress.StageScrapeStart, URL: rawURL})

	rv := newRendezvous(p.hasher)
	tab.OnSnapshot(rv.offer)

	navCtx, cancelNav := context.WithTimeout(ctx, p.pool.cfg.NavTimeout)
	defer cancelNav()

	navDone := make(chan error, 1)
	go func() {
		navDone <- tab.Run(navCtx,
			chromedp.Navigate(rawURL),
			waitNetworkIdle(networkQuiet),
		)
	}()

	yielded := 0
	for {
		select {
		case <-ctx.Done():
			p.emit(progress.Event{Stage: progress.StageScrapeError, URL: rawURL, Err: ctx.Err().Error()})
			return

		case <-rv.notify:
			snap, ok := rv.take()
			if !ok {
				continue
			}
			shot, err := tab.Screenshot(ctx)
			if err != nil {
				p.logger.Debug("interim screenshot failed", zap.String("url", rawURL), zap.Error(err))
			}
			if !p.yield(ctx, out, reader.PageResult{URL: rawURL, Snapshot: snap, Screenshot: shot}) {
				return
			}
			yielded++
			p.emit(progress.Event{Stage: progress.StageSnapshot, URL: rawURL})

		case navErr := <-navDone:
			if navErr != nil && yielded == 0 {
				p.logger.Warn("navigation failed", zap.String("url", rawURL), zap.Error(navErr))
				p.emit(progress.Event{Stage: progress.StageScrapeError, URL: rawURL, Err: navErr.Error()})
				return
			}
			// Load settled (or failed after partial progress): run one last
			// synchronous parse and yield it as the final item.
			snap, err := tab.Extract(ctx)
			if err != nil {
				p.emit(progress.Event{Stage: progress.StageScrapeError, URL: rawURL, Err: err.Error()})
				return
			}
			shot, err := tab.Screenshot(ctx)
			if err != nil {
				p.logger.Debug("final screenshot failed", zap.String("url", rawURL), zap.Error(err))
			}
			p.yield(ctx, out, reader.PageResult{URL: rawURL, Snapshot: snap, Screenshot: shot, Final: true})
			p.emit(progress.Event{
				Stage:      progress.StageScrapeDone,
				URL:        rawURL,
				DurationMs: time.Since(started).Milliseconds(),
			})
			return
		}
	}
}

// yield blocks on the unbuffered channel until the consumer receives. A
// canceled consumer is not an error; the result is simply dropped.
func (p *Pipeline) yield(ctx context.Context, out chan<- reader.PageResult, res reader.PageResult) bool {
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Pipeline) emit(evt progress.Event) {
	if p.hub == nil {
		return
	}
	if p.clock != nil {
		evt.At = p.clock.Now()
	} else {
		evt.At = time.Now().UTC()
	}
	p.hub.Emit(evt)
}

// waitNetworkIdle resolves once no network requests have been in flight for
// the quiet window.
func waitNetworkIdle(quiet time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var mu sync.Mutex
		inflight := make(map[network.RequestID]struct{})
		idle := make(chan struct{})
		var once sync.Once

		timer := time.AfterFunc(quiet, func() {
			once.Do(func() { close(idle) })
		})
		defer timer.Stop()

		chromedp.ListenTarget(ctx, func(ev any) {
			mu.Lock()
			defer mu.Unlock()
			switch e := ev.(type) {
			case *network.EventRequestWillBeSent:
				inflight[e.RequestID] = struct{}{}
				timer.Stop()
			case *network.EventLoadingFinished:
				delete(inflight, e.RequestID)
				if len(inflight) == 0 {
					timer.Reset(quiet)
				}
			case *network.EventLoadingFailed:
				delete(inflight, e.RequestID)
				if len(inflight) == 0 {
					timer.Reset(quiet)
				}
			}
		})

		select {
		case <-idle:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}
