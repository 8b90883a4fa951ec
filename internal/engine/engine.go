// Package engine drives batch collection: it owns the queue, the pacing, the
// pause/resume/cancel lifecycle, failure accounting, and the persisted
// progress that makes a run survive restarts.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/collectkit/amazon-collector/internal/backend"
	"github.com/collectkit/amazon-collector/internal/extract"
	"github.com/collectkit/amazon-collector/internal/models"
	"github.com/collectkit/amazon-collector/internal/ratelimit"
	"github.com/collectkit/amazon-collector/internal/state"
)

// Collector produces a record for one identifier, by whatever means: an open
// tab, a fresh background tab, or a test double.
type Collector interface {
	Collect(ctx context.Context, asin, marketplace string) (*models.ProductRecord, error)
}

// Saver persists a record to the backend.
type Saver interface {
	SaveProduct(ctx context.Context, record *models.ProductRecord) (*backend.SaveResult, error)
}

// AuthChecker answers whether a session is currently held.
type AuthChecker interface {
	IsLoggedIn() bool
}

// ErrNotAuthenticated is returned by Start when no session is held.
var ErrNotAuthenticated = errors.New("engine: not authenticated")

// ErrBusy is returned by Start while a run is already in progress.
var ErrBusy = errors.New("engine: collection already in progress")

// Config tunes a collection run.
type Config struct {
	// DelayMin/DelayMax bound the randomized pacing delay before each item.
	DelayMin time.Duration
	DelayMax time.Duration
	// MaxItems caps the queue length of one run.
	MaxItems int
	// Marketplace scopes the run's detail URLs.
	Marketplace string
	// AutoResume lets a restored mid-run state continue stepping without an
	// explicit resume. Off by default so a crash loop cannot turn into a
	// runaway collection.
	AutoResume bool
}

func (c *Config) defaults() {
	if c.DelayMin <= 0 {
		c.DelayMin = 800 * time.Millisecond
	}
	if c.DelayMax < c.DelayMin {
		c.DelayMax = 2000 * time.Millisecond
	}
	if c.DelayMax < c.DelayMin {
		c.DelayMax = c.DelayMin
	}
	if c.MaxItems <= 0 {
		c.MaxItems = 100
	}
	if c.Marketplace == "" {
		c.Marketplace = "US"
	}
}

// Engine is the batch-collection state machine. One instance runs per
// process; all mutation happens under its lock and every mutation is
// persisted before it is observable.
type Engine struct {
	collector Collector
	saver     Saver
	auth      AuthChecker
	store     state.Store
	pacer     *ratelimit.AdaptivePacer
	notifier  Notifier
	metrics   *Metrics
	logger    *slog.Logger
	cfg       Config

	mu      sync.Mutex
	st      *models.CollectionState
	looping bool
	// skipCurrent marks that the item at CurrentIndex already failed and was
	// counted before the run went to AwaitingReauth; resume advances past it
	// instead of retrying.
	skipCurrent bool
}

func New(collector Collector, saver Saver, auth AuthChecker, store state.Store, cfg Config, notifier Notifier, metrics *Metrics, logger *slog.Logger) *Engine {
	cfg.defaults()
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Engine{
		collector: collector,
		saver:     saver,
		auth:      auth,
		store:     store,
		pacer:     ratelimit.NewAdaptivePacer(cfg.DelayMin, cfg.DelayMax),
		notifier:  notifier,
		metrics:   metrics,
		logger:    logger.With("component", "collection_engine"),
		cfg:       cfg,
		st:        &models.CollectionState{Phase: models.PhaseIdle},
	}
}

// transitions lists the legal phase moves. Anything else is a bug.
var transitions = map[models.CollectionPhase][]models.CollectionPhase{
	models.PhaseIdle:           {models.PhaseRunning},
	models.PhaseRunning:        {models.PhasePaused, models.PhaseAwaitingReauth, models.PhaseCompleted, models.PhaseCancelled},
	models.PhasePaused:         {models.PhaseRunning, models.PhaseCancelled},
	models.PhaseAwaitingReauth: {models.PhaseRunning, models.PhaseCancelled},
	models.PhaseCompleted:      {models.PhaseRunning},
	models.PhaseCancelled:      {models.PhaseRunning},
}

// transitionLocked moves to phase after validating the edge. Callers hold
// the lock.
func (e *Engine) transitionLocked(to models.CollectionPhase) error {
	from := e.st.Phase
	for _, allowed := range transitions[from] {
		if allowed == to {
			e.st.Phase = to
			return nil
		}
	}
	return fmt.Errorf("illegal transition %s -> %s", from, to)
}

// Start begins a run over identifiers: de-duplicated, validated, capped at
// MaxItems. It rejects when no session is held or a run is in progress.
func (e *Engine) Start(ctx context.Context, identifiers []string) (*models.CollectionState, error) {
	if !e.auth.IsLoggedIn() {
		return nil, ErrNotAuthenticated
	}

	queue := dedupe(identifiers, e.cfg.MaxItems)
	if len(queue) == 0 {
		return nil, fmt.Errorf("engine: no valid identifiers to collect")
	}

	e.mu.Lock()
	if e.st.IsCollecting() {
		e.mu.Unlock()
		return nil, ErrBusy
	}
	e.st = &models.CollectionState{
		Phase:      models.PhaseIdle,
		Queue:      queue,
		TotalItems: len(queue),
	}
	e.skipCurrent = false
	if err := e.transitionLocked(models.PhaseRunning); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.persistLocked(ctx)
	snapshot := e.st.Clone()
	e.startLoopLocked(ctx)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RunsStarted.Inc()
	}
	e.logger.Info("collection started", "items", len(queue))
	e.notifier.Progress(snapshot)
	return snapshot, nil
}

// startLoopLocked spawns the step loop unless one is already running. The
// loop is detached from the caller's cancellation: a run outlives the HTTP
// request that started it and stops through Pause/Cancel instead.
func (e *Engine) startLoopLocked(ctx context.Context) {
	if e.looping {
		return
	}
	e.looping = true
	go e.run(context.WithoutCancel(ctx))
}

// run invokes step until the phase leaves Running. Each iteration is one
// item; there is no fan-out across the queue and no recursion.
func (e *Engine) run(ctx context.Context) {
	for {
		if e.step(ctx) {
			continue
		}
		e.mu.Lock()
		if ctx.Err() == nil && e.st.Phase == models.PhaseRunning {
			// A resume slipped in between the boundary check and loop exit;
			// this loop is still the one responsible for stepping.
			e.mu.Unlock()
			continue
		}
		e.looping = false
		e.mu.Unlock()
		return
	}
}

// step performs the unit of work for the item at CurrentIndex and reports
// whether the loop should continue. Cancellation and pause are only observed
// here, at the boundary: in-flight work finishes and its result is discarded.
func (e *Engine) step(ctx context.Context) bool {
	e.mu.Lock()
	if e.st.Phase != models.PhaseRunning {
		e.mu.Unlock()
		return false
	}

	if e.skipCurrent {
		// The item at CurrentIndex failed before reauth and is already
		// counted; move past it rather than retrying.
		e.skipCurrent = false
		e.st.CurrentIndex++
		e.persistLocked(ctx)
	}

	if e.st.CurrentIndex >= e.st.TotalItems {
		e.transitionLocked(models.PhaseCompleted)
		e.persistLocked(ctx)
		snapshot := e.st.Clone()
		e.mu.Unlock()

		e.logger.Info("collection completed",
			"success", snapshot.SuccessCount, "failure", snapshot.FailureCount)
		e.notifier.Progress(snapshot)
		e.notifier.Done(snapshot.SuccessCount, snapshot.FailureCount)
		return false
	}

	asin := e.st.Queue[e.st.CurrentIndex]
	e.mu.Unlock()

	if err := e.pacer.Wait(ctx); err != nil {
		return false
	}

	started := time.Now()
	err := e.collectAndSave(ctx, asin)
	if e.metrics != nil {
		e.metrics.StepDuration.Observe(time.Since(started).Seconds())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.st.Phase != models.PhaseRunning {
		// Cancelled or paused while the item was in flight; the result is
		// discarded and counters stay untouched.
		return false
	}

	if err == nil {
		e.st.SuccessCount++
		e.pacer.RecordSuccess()
		if e.metrics != nil {
			e.metrics.ItemsTotal.WithLabelValues("success").Inc()
		}
	} else {
		e.st.FailureCount++
		e.pacer.RecordError()
		if e.metrics != nil {
			e.metrics.ItemsTotal.WithLabelValues("failure").Inc()
		}

		if backend.IsSessionExpired(err) {
			// Halt before advancing; the failed item stays at CurrentIndex
			// and resume will skip over it.
			e.logger.Warn("session expired mid-run, awaiting reauth", "asin", asin)
			e.transitionLocked(models.PhaseAwaitingReauth)
			e.skipCurrent = true
			e.persistLocked(ctx)
			snapshot := e.st.Clone()
			go func() {
				e.notifier.Progress(snapshot)
				e.notifier.ReauthRequired()
			}()
			return false
		}

		e.logger.Error("item failed", "asin", asin, "error", err)
	}

	e.st.CurrentIndex++
	e.persistLocked(ctx)
	snapshot := e.st.Clone()
	go e.notifier.Progress(snapshot)

	return e.st.Phase == models.PhaseRunning
}

func (e *Engine) collectAndSave(ctx context.Context, asin string) error {
	record, err := e.collector.Collect(ctx, asin, e.cfg.Marketplace)
	if err != nil {
		return err
	}
	result, err := e.saver.SaveProduct(ctx, record)
	if err != nil {
		return err
	}
	if result.Skipped {
		e.logger.Info("duplicate skipped", "asin", asin)
	}
	return nil
}

// Pause holds stepping after the in-flight item, if any, finishes.
func (e *Engine) Pause(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.st.Phase != models.PhaseRunning {
		return
	}
	e.transitionLocked(models.PhasePaused)
	e.persistLocked(ctx)
	e.logger.Info("collection paused", "index", e.st.CurrentIndex)
}

// Resume continues a paused or reauth-blocked run from the saved position.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.st.Phase {
	case models.PhasePaused, models.PhaseAwaitingReauth:
	default:
		return fmt.Errorf("engine: nothing to resume (phase %s)", e.st.Phase)
	}
	if e.st.Phase == models.PhaseAwaitingReauth && !e.auth.IsLoggedIn() {
		return ErrNotAuthenticated
	}

	if err := e.transitionLocked(models.PhaseRunning); err != nil {
		return err
	}
	e.persistLocked(ctx)
	e.startLoopLocked(ctx)
	e.logger.Info("collection resumed", "index", e.st.CurrentIndex)
	return nil
}

// Cancel abandons the run and discards the queue. Idempotent; a result
// arriving from an in-flight item after Cancel is dropped.
func (e *Engine) Cancel(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.st.IsCollecting() {
		return
	}
	e.transitionLocked(models.PhaseCancelled)
	e.st.Queue = nil
	e.skipCurrent = false
	e.persistLocked(ctx)
	e.logger.Info("collection cancelled", "index", e.st.CurrentIndex)
}

// RestoreOnLoad rehydrates a persisted mid-run state after a restart. The
// run resumes stepping only under the AutoResume policy; otherwise it is
// restored as paused and waits for an explicit Resume.
func (e *Engine) RestoreOnLoad(ctx context.Context) error {
	data, err := e.store.Get(ctx, state.KeyCollectionState)
	if errors.Is(err, state.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load collection state: %w", err)
	}

	var st models.CollectionState
	if err := json.Unmarshal(data, &st); err != nil {
		e.logger.Warn("persisted collection state unreadable, discarding", "error", err)
		e.store.Delete(ctx, state.KeyCollectionState)
		return nil
	}
	if !st.IsCollecting() {
		return nil
	}

	e.mu.Lock()
	e.st = &st
	if st.Phase == models.PhaseRunning && !e.cfg.AutoResume {
		e.st.Phase = models.PhasePaused
	}
	e.persistLocked(ctx)
	snapshot := e.st.Clone()
	if e.st.Phase == models.PhaseRunning {
		e.startLoopLocked(ctx)
	}
	e.mu.Unlock()

	e.logger.Info("collection state restored",
		"phase", snapshot.Phase, "index", snapshot.CurrentIndex, "total", snapshot.TotalItems)
	e.notifier.Progress(snapshot)
	return nil
}

// CollectOne runs the extraction/save path for a single identifier without
// touching the queue or run state. Errors go straight back to the caller.
func (e *Engine) CollectOne(ctx context.Context, asin string) (*models.ProductRecord, *backend.SaveResult, error) {
	if !e.auth.IsLoggedIn() {
		return nil, nil, ErrNotAuthenticated
	}
	if !extract.ValidASIN(asin) {
		return nil, nil, fmt.Errorf("engine: %q is not a valid identifier", asin)
	}

	record, err := e.collector.Collect(ctx, asin, e.cfg.Marketplace)
	if err != nil {
		return nil, nil, err
	}
	result, err := e.saver.SaveProduct(ctx, record)
	if err != nil {
		return nil, nil, err
	}
	if e.metrics != nil {
		e.metrics.ItemsTotal.WithLabelValues("success").Inc()
	}
	return record, result, nil
}

// State returns a copy of the current run state.
func (e *Engine) State() *models.CollectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.Clone()
}

// persistLocked writes the state after every mutation. A storage hiccup is
// logged, not fatal: the run continues and the next mutation retries.
func (e *Engine) persistLocked(ctx context.Context) {
	data, err := json.Marshal(e.st)
	if err != nil {
		e.logger.Error("failed to encode collection state", "error", err)
		return
	}
	if err := e.store.Set(ctx, state.KeyCollectionState, data); err != nil {
		e.logger.Error("failed to persist collection state", "error", err)
	}
}

func dedupe(identifiers []string, max int) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(identifiers))
	for _, id := range identifiers {
		if !extract.ValidASIN(id) || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if len(out) == max {
			break
		}
	}
	return out
}
