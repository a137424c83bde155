// Package download resolves, fetches, verifies and finalizes work items.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/veranemoloko/mobile-transfer/internal/catalog"
	"github.com/veranemoloko/mobile-transfer/internal/domain"
	errpkg "github.com/veranemoloko/mobile-transfer/internal/errors"
	"github.com/veranemoloko/mobile-transfer/internal/finalize"
	"github.com/veranemoloko/mobile-transfer/internal/metrics"
	"github.com/veranemoloko/mobile-transfer/internal/storage"
)

// Options tune the per-item pipeline.
type Options struct {
	RetryBudget      int
	RetryDelay       time.Duration
	LookupPasses     int
	Stall            StallConfig
	WatchdogInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		RetryBudget:      8,
		RetryDelay:       time.Second,
		LookupPasses:     3,
		Stall:            DefaultStallConfig(),
		WatchdogInterval: time.Second,
	}
}

// EventKind classifies a controller report.
type EventKind int

const (
	EventResolved EventKind = iota
	EventProgress
	EventLog
)

// Event is reported while an item moves through the pipeline.
type Event struct {
	Kind       EventKind
	ItemID     string
	Descriptor *domain.ItemDescriptor
	Fraction   float64
	Speed      int64
	Message    string
}

// Reporter receives controller events. It may be called from transport goroutines.
type Reporter func(Event)

// Controller runs the resolve, fetch, verify, finalize and place pipeline for one item.
type Controller struct {
	lookup    catalog.Lookup
	accounts  *catalog.AccountStore
	transport Transport
	finalizer finalize.Finalizer
	tempDir   string
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

func NewController(
	lookup catalog.Lookup,
	accounts *catalog.AccountStore,
	transport Transport,
	finalizer finalize.Finalizer,
	tempDir string,
	opts Options,
	logger *slog.Logger,
) *Controller {
	if opts.LookupPasses <= 0 {
		opts.LookupPasses = 1
	}
	if opts.WatchdogInterval <= 0 {
		opts.WatchdogInterval = time.Second
	}
	return &Controller{
		lookup:    lookup,
		accounts:  accounts,
		transport: transport,
		finalizer: finalizer,
		tempDir:   tempDir,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Process drives one item to its terminal outcome. It never panics on collaborator
// errors and returns Cancelled once ctx is done.
func (c *Controller) Process(ctx context.Context, item domain.WorkItem, report Reporter) domain.TaskOutcome {
	if report == nil {
		report = func(Event) {}
	}
	started := c.now()
	outcome := c.process(ctx, item, report)

	metrics.ItemOutcomes.WithLabelValues(string(outcome.Kind), string(outcome.Reason)).Inc()
	metrics.DownloadDuration.Observe(c.now().Sub(started).Seconds())

	c.logger.Info("item finished",
		"item_id", item.ID,
		"outcome", outcome.String(),
		"message", outcome.Message,
	)
	return outcome
}

func (c *Controller) process(ctx context.Context, item domain.WorkItem, report Reporter) domain.TaskOutcome {
	if ctx.Err() != nil {
		return domain.Cancelled()
	}

	desc, account, err := c.resolve(ctx, item)
	if err != nil {
		if ctx.Err() != nil {
			return domain.Cancelled()
		}
		return domain.Failed(domain.ReasonLookupFailed, fmt.Errorf("%w: %v", errpkg.ErrLookupFailed, err))
	}
	report(Event{Kind: EventResolved, ItemID: item.ID, Descriptor: desc})

	store := storage.NewArtifactStore(item.TargetDir)
	name := storage.ArtifactName(item.ID, desc.Checksum)

	removed, err := store.PurgeStale(item.ID, name)
	for _, r := range removed {
		report(Event{Kind: EventLog, ItemID: item.ID, Message: "[+] removing old file: " + store.Path(r)})
	}
	if err != nil {
		c.logger.Warn("failed to purge stale artifacts", "item_id", item.ID, "error", err)
	}

	if store.Exists(name) {
		c.logger.Info("artifact already present", "item_id", item.ID, "path", store.Path(name))
		report(Event{Kind: EventProgress, ItemID: item.ID, Fraction: 1})
		return domain.Success()
	}

	if err := os.MkdirAll(c.tempDir, 0755); err != nil {
		return domain.Failed(domain.ReasonDownloadExhausted, fmt.Errorf("create temp dir: %w", err))
	}
	tmp := filepath.Join(c.tempDir, uuid.NewString()+".ipa")
	defer os.Remove(tmp)

	if out, ok := c.fetch(ctx, item.ID, desc, tmp, report); !ok {
		return out
	}
	if ctx.Err() != nil {
		return domain.Cancelled()
	}

	sum, err := fileMD5(tmp)
	if err != nil {
		return domain.Failed(domain.ReasonHashMismatch, fmt.Errorf("%w: %v", errpkg.ErrHashMismatch, err))
	}
	if !checksumMatches(sum, desc.Checksum) {
		os.Remove(tmp)
		return domain.Failed(domain.ReasonHashMismatch,
			fmt.Errorf("%w: expected %s, got %s", errpkg.ErrHashMismatch, desc.Checksum, sum))
	}

	if err := c.finalizer.Finalize(tmp, desc, account.Email); err != nil {
		os.Remove(tmp)
		return domain.Failed(domain.ReasonFinalizeFailed, fmt.Errorf("%w: %v", errpkg.ErrFinalizeFailed, err))
	}

	if err := store.Place(tmp, name); err != nil {
		os.Remove(store.Path(name))
		return domain.Failed(domain.ReasonFinalizeFailed, fmt.Errorf("%w: %v", errpkg.ErrFinalizeFailed, err))
	}

	report(Event{Kind: EventProgress, ItemID: item.ID, Fraction: 1})
	return domain.Success()
}

// resolve walks eligible accounts, then passes, then candidate types.
func (c *Controller) resolve(ctx context.Context, item domain.WorkItem) (*domain.ItemDescriptor, catalog.Account, error) {
	accounts := c.eligibleAccounts(item)
	if len(accounts) == 0 {
		return nil, catalog.Account{}, fmt.Errorf("no eligible account for %s", item.ID)
	}

	var lastErr error
	for _, account := range accounts {
		for pass := 0; pass < c.opts.LookupPasses; pass++ {
			for _, candidate := range catalog.CandidateTypes {
				if err := ctx.Err(); err != nil {
					return nil, catalog.Account{}, err
				}

				desc, err := c.lookup.Lookup(ctx, candidate, item.ID, account)
				if err == nil {
					err = desc.Validate()
				}
				if err != nil {
					lastErr = err
					if !errors.Is(err, errpkg.ErrNotFound) {
						c.logger.Debug("lookup error",
							"item_id", item.ID,
							"candidate", candidate,
							"account", account.Email,
							"error", err,
						)
					}
					continue
				}

				if desc.ItemID == "" {
					desc.ItemID = item.ID
				}
				return desc, account, nil
			}
		}
	}
	return nil, catalog.Account{}, lastErr
}

func (c *Controller) eligibleAccounts(item domain.WorkItem) []catalog.Account {
	if c.accounts == nil {
		return nil
	}
	if !item.Unassigned() {
		account, ok := c.accounts.Find(item.Account)
		if !ok {
			return nil
		}
		return []catalog.Account{account}
	}

	var out []catalog.Account
	for _, a := range c.accounts.Accounts() {
		if item.AllowsAccount(a.Email) {
			out = append(out, a)
		}
	}
	return out
}

// fetch runs the attempt loop. It returns ok=false with a terminal outcome when no
// complete transfer was obtained.
func (c *Controller) fetch(ctx context.Context, itemID string, desc *domain.ItemDescriptor, dst string, report Reporter) (domain.TaskOutcome, bool) {
	budget := c.opts.RetryBudget
	var lastErr error

	for attempt := 1; budget > 0; attempt++ {
		if ctx.Err() != nil {
			return domain.Cancelled(), false
		}
		budget--

		res := c.attempt(ctx, desc.SourceURL, dst, itemID, report)
		metrics.DownloadAttempts.Inc()
		metrics.DownloadBytes.Add(float64(res.bytes))

		if res.err == nil {
			c.logger.Debug("transfer complete",
				"item_id", itemID,
				"attempt", attempt,
				"bytes", humanize.IBytes(uint64(res.bytes)),
			)
			return domain.TaskOutcome{}, true
		}
		if ctx.Err() != nil {
			return domain.Cancelled(), false
		}

		lastErr = res.err
		if res.stalled {
			metrics.DownloadStalls.Inc()
			report(Event{Kind: EventLog, ItemID: itemID, Message: "Download speed is slow, retrying..."})
		}
		// one refund per attempt, even if it both progressed and stalled
		if res.progressed || res.stalled {
			budget++
		}

		c.logger.Warn("download attempt failed",
			"item_id", itemID,
			"attempt", attempt,
			"stalled", res.stalled,
			"progressed", res.progressed,
			"budget_left", budget,
			"error", res.err,
		)

		if budget > 0 && !sleepContext(ctx, c.opts.RetryDelay) {
			return domain.Cancelled(), false
		}
	}

	if lastErr == nil {
		return domain.Failed(domain.ReasonDownloadExhausted, nil), false
	}
	return domain.Failed(domain.ReasonDownloadExhausted,
		fmt.Errorf("%w: %v", errpkg.ErrDownloadExhausted, lastErr)), false
}

type attemptResult struct {
	err        error
	bytes      int64
	progressed bool
	stalled    bool
}

func (c *Controller) attempt(ctx context.Context, sourceURL, dst, itemID string, report Reporter) attemptResult {
	attemptCtx, abort := context.WithCancel(ctx)
	defer abort()

	obs := &attemptObserver{
		detector: NewStallDetector(c.opts.Stall, c.now()),
		now:      c.now,
		abort:    abort,
		itemID:   itemID,
		report:   report,
	}
	stopWatch := obs.watch(attemptCtx, c.opts.WatchdogInterval)

	n, err := c.transport.Fetch(attemptCtx, sourceURL, dst, obs)
	stopWatch()

	progressed, stalled := obs.state()
	if err != nil && stalled && ctx.Err() == nil {
		err = fmt.Errorf("transfer stalled: %w", err)
	}
	return attemptResult{err: err, bytes: n, progressed: progressed, stalled: stalled}
}

// attemptObserver owns the DownloadAttemptState of one attempt.
type attemptObserver struct {
	mu       sync.Mutex
	detector *StallDetector
	now      func() time.Time
	abort    context.CancelFunc
	itemID   string
	report   Reporter
	fraction float64
}

func (o *attemptObserver) OnProgress(fraction float64) {
	o.mu.Lock()
	o.fraction = clampFraction(fraction)
	speed := o.detector.LastSpeed()
	f := o.fraction
	o.mu.Unlock()

	o.report(Event{Kind: EventProgress, ItemID: o.itemID, Fraction: f, Speed: speed})
}

func (o *attemptObserver) OnSpeed(bytesPerSec int64) {
	o.mu.Lock()
	fired := o.detector.Observe(bytesPerSec, o.now())
	f := o.fraction
	o.mu.Unlock()

	o.report(Event{Kind: EventProgress, ItemID: o.itemID, Fraction: f, Speed: bytesPerSec})
	if fired {
		o.abort()
	}
}

// watch polls the detector for the no-sample timeout until the returned func is called.
func (o *attemptObserver) watch(ctx context.Context, interval time.Duration) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.mu.Lock()
				fired := o.detector.Idle(o.now())
				o.mu.Unlock()
				if fired {
					o.abort()
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (o *attemptObserver) state() (progressed, stalled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.detector.Progressed(), o.detector.Stalled()
}

func clampFraction(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
