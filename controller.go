package main

import (
	"context"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultAutoRefreshPeriod = 15 * time.Second

// NavigationRequest asks the host to open the job list of one job set, filtered
// to one job state.
type NavigationRequest struct {
	Queue    string
	JobSetID string
	State    JobState
}

// Link resolves the request against base, keeping its scheme and host.
func (r NavigationRequest) Link(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		u = &url.URL{}
	}
	q := url.Values{}
	q.Set("queue", r.Queue)
	q.Set("job_set", r.JobSetID)
	q.Set("job_states", string(r.State))
	u.Path = "/jobs"
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String()
}

// State is a read-only copy of everything the rendering layer needs.
type State struct {
	Filters            FilterState
	JobSets            []JobSet
	Selection          Selection
	ListStatus         RequestStatus
	LastError          error
	LastRefresh        time.Time
	AutoRefreshRunning bool
	Cancel             DialogContext[NoParams]
	Reprioritize       DialogContext[PriorityInput]
}

func (s State) Cancellable() []JobSet {
	return s.Cancel.Eligible
}

func (s State) Reprioritizeable() []JobSet {
	return s.Reprioritize.Eligible
}

func (s State) CanCancel() bool {
	return s.Filters.View == ViewJobCounts && len(s.Cancel.Eligible) > 0
}

func (s State) CanReprioritize() bool {
	return s.Filters.View == ViewJobCounts && len(s.Reprioritize.Eligible) > 0
}

type ControllerConfig struct {
	Logger *zap.Logger
	// Stores are read in order on Start, so later stores win. All are written
	// after every filter change.
	Stores []StateStore
	// AutoRefreshPeriod defaults to 15s. Periods under one second run every
	// second.
	AutoRefreshPeriod time.Duration
	DebounceWindow    time.Duration
	FetchTimeout      time.Duration
	Navigate          func(NavigationRequest)
}

// Controller owns the job sets dashboard state. It is safe for concurrent use;
// backend calls are made without holding its lock.
type Controller struct {
	logger    *zap.Logger
	stores    []StateStore
	navigate  func(NavigationRequest)
	scheduler *intervalScheduler
	loader    *listLoader
	cancel    *bulkAction[NoParams]
	reprio    *bulkAction[PriorityInput]
	changes   chan struct{}

	mu          sync.Mutex
	ctx         context.Context
	filters     FilterState
	jobSets     []JobSet
	selection   Selection
	inflight    int
	lastErr     error
	lastRefresh time.Time
}

func NewController(backend Backend, cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	period := cfg.AutoRefreshPeriod
	if period <= 0 {
		period = defaultAutoRefreshPeriod
	}

	c := &Controller{
		logger:    logger,
		stores:    cfg.Stores,
		navigate:  cfg.Navigate,
		changes:   make(chan struct{}, 1),
		ctx:       context.Background(),
		filters:   defaultFilterState(),
		jobSets:   []JobSet{},
		selection: newSelection(),
	}
	c.scheduler = newIntervalScheduler(period, logger)
	c.loader = newListLoader(backend.GetJobSets, cfg.DebounceWindow, cfg.FetchTimeout, logger)
	c.loader.settled = c.applyListResult
	c.cancel = newBulkAction("cancel", isCancellable,
		func(ctx context.Context, queue string, jobSets []JobSet, _ NoParams) (ActionResult, error) {
			return backend.CancelJobSets(ctx, queue, jobSets)
		}, logger, c.notify)
	c.reprio = newBulkAction("reprioritize", isReprioritizeable,
		func(ctx context.Context, queue string, jobSets []JobSet, p PriorityInput) (ActionResult, error) {
			return backend.ReprioritizeJobSets(ctx, queue, jobSets, p.Value)
		}, logger, c.notify)
	return c
}

// Start restores the filters from the stores, writes the merged result back,
// loads the list and starts auto refresh if enabled. ctx also bounds the
// background refreshes. A load error is returned but auto refresh still starts.
func (c *Controller) Start(ctx context.Context) error {
	filters := defaultFilterState()
	for _, store := range c.stores {
		store.UpdateState(&filters)
	}

	c.mu.Lock()
	c.ctx = ctx
	c.filters = filters
	c.mu.Unlock()
	c.cancel.setQueue(filters.Queue)
	c.reprio.setQueue(filters.Queue)
	c.persist(filters)

	c.logger.Info("job sets controller starting",
		zap.String("queue", filters.Queue),
		zap.String("view", string(filters.View)),
		zap.Bool("auto_refresh", filters.AutoRefresh))

	err := c.Refresh(ctx)

	c.scheduler.RegisterCallback(c.autoRefresh)
	c.syncAutoRefresh()
	return err
}

func (c *Controller) Close() {
	c.scheduler.Stop()
}

// Changes signals after state changes. Signals coalesce; read Snapshot after
// receiving one.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

func (c *Controller) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	s := State{
		Filters:     c.filters,
		JobSets:     cloneJobSets(c.jobSets),
		Selection:   c.selection.clone(),
		ListStatus:  RequestIdle,
		LastError:   c.lastErr,
		LastRefresh: c.lastRefresh,
	}
	if c.inflight > 0 {
		s.ListStatus = RequestLoading
	}
	c.mu.Unlock()

	s.Cancel = c.cancel.snapshot()
	s.Reprioritize = c.reprio.snapshot()
	s.AutoRefreshRunning = c.scheduler.Running()
	return s
}

func (c *Controller) SetQueue(ctx context.Context, queue string) error {
	c.updateFilters(func(f *FilterState) { f.Queue = queue })
	c.cancel.setQueue(queue)
	c.reprio.setQueue(queue)
	return c.Refresh(ctx)
}

// SetView switches the view and clears the selection.
func (c *Controller) SetView(view View) {
	c.updateFilters(func(f *FilterState) { f.View = view })
	c.applySelection(func(_ []JobSet, _ Selection) (Selection, bool) {
		return newSelection(), true
	})
}

func (c *Controller) SetNewestFirst(ctx context.Context, newestFirst bool) error {
	c.updateFilters(func(f *FilterState) { f.NewestFirst = newestFirst })
	return c.Refresh(ctx)
}

func (c *Controller) SetActiveOnly(ctx context.Context, activeOnly bool) error {
	c.updateFilters(func(f *FilterState) { f.ActiveOnly = activeOnly })
	return c.Refresh(ctx)
}

func (c *Controller) SetAutoRefresh(enabled bool) {
	c.updateFilters(func(f *FilterState) { f.AutoRefresh = enabled })
	c.syncAutoRefresh()
}

func (c *Controller) SelectJobSet(index int, selected bool) {
	c.applySelection(func(list []JobSet, sel Selection) (Selection, bool) {
		return selectJobSet(list, sel, index, selected)
	})
}

func (c *Controller) ShiftSelectJobSet(index int, selected bool) {
	c.applySelection(func(list []JobSet, sel Selection) (Selection, bool) {
		return shiftSelectJobSet(list, sel, index, selected)
	})
}

// SelectRow is SelectJobSet for a row the caller saw in an earlier snapshot.
// If a reload moved the job set, its current row is used; if it is gone,
// nothing changes and SelectRow reports false.
func (c *Controller) SelectRow(index int, seen JobSet, selected bool) bool {
	return c.applySelection(func(list []JobSet, sel Selection) (Selection, bool) {
		return selectJobSet(list, sel, rowIndex(list, index, seen), selected)
	})
}

func (c *Controller) ShiftSelectRow(index int, seen JobSet, selected bool) bool {
	return c.applySelection(func(list []JobSet, sel Selection) (Selection, bool) {
		return shiftSelectJobSet(list, sel, rowIndex(list, index, seen), selected)
	})
}

func (c *Controller) DeselectAll() {
	c.applySelection(func(_ []JobSet, _ Selection) (Selection, bool) {
		return newSelection(), true
	})
}

func (c *Controller) OpenCancelDialog() bool {
	return c.cancel.open()
}

func (c *Controller) CloseCancelDialog() {
	c.cancel.close()
}

func (c *Controller) OpenReprioritizeDialog() bool {
	return c.reprio.open()
}

func (c *Controller) CloseReprioritizeDialog() {
	c.reprio.close()
}

// SetPriorityInput records the raw priority text and its validity.
func (c *Controller) SetPriorityInput(raw string) {
	c.reprio.updateParams(func(p PriorityInput) PriorityInput { return p.withInput(raw) })
}

// CancelJobSets cancels the eligible job sets. It is a no-op while a cancel is
// already in flight. A full success reloads the list.
func (c *Controller) CancelJobSets(ctx context.Context) error {
	result, submitted, err := c.cancel.submit(ctx)
	if err != nil || !submitted {
		return err
	}
	if result.FullSuccess() {
		return c.Refresh(ctx)
	}
	return nil
}

// ReprioritizeJobSets applies the current priority value to the eligible job
// sets. Callers must not submit while the priority input is invalid.
func (c *Controller) ReprioritizeJobSets(ctx context.Context) error {
	result, submitted, err := c.reprio.submit(ctx)
	if err != nil || !submitted {
		return err
	}
	if result.FullSuccess() {
		return c.Refresh(ctx)
	}
	return nil
}

func (c *Controller) NavigateToJobSet(jobSetID string, state JobState) {
	c.mu.Lock()
	req := NavigationRequest{Queue: c.filters.Queue, JobSetID: jobSetID, State: state}
	c.mu.Unlock()

	c.logger.Debug("navigate to job set",
		zap.String("queue", req.Queue),
		zap.String("job_set", req.JobSetID),
		zap.String("state", string(req.State)))
	if c.navigate != nil {
		c.navigate(req)
	}
}

// Refresh loads the list with the current filters. Loads issued in quick
// succession share one fetch; only the newest fetch's response is applied.
// Cancelling ctx only ends the wait: the fetch still completes and its result
// is applied.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.inflight++
	req := c.filters.listRequest()
	c.mu.Unlock()
	c.notify()

	_, err := c.loader.load(ctx, req)
	return err
}

// applyListResult settles one fetch that waiters load calls joined.
func (c *Controller) applyListResult(res listResult, waiters int, err error) {
	c.mu.Lock()
	c.inflight -= waiters
	switch {
	case res.Seq != c.loader.latest():
		c.logger.Debug("discarding stale job sets response",
			zap.Uint64("seq", res.Seq),
			zap.Uint64("latest", c.loader.latest()),
			zap.Error(err))
	case err != nil:
		c.lastErr = err
	default:
		c.jobSets = cloneJobSets(res.JobSets)
		if c.jobSets == nil {
			c.jobSets = []JobSet{}
		}
		c.selection = pruneSelection(c.selection, c.jobSets)
		c.cancel.clearEligible()
		c.reprio.clearEligible()
		c.lastErr = nil
		c.lastRefresh = time.Now()
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) autoRefresh() {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
		c.logger.Warn("auto refresh failed", zap.Error(err))
	}
}

func (c *Controller) syncAutoRefresh() {
	c.mu.Lock()
	enabled := c.filters.AutoRefresh
	c.mu.Unlock()
	if enabled {
		c.scheduler.Start()
	} else {
		c.scheduler.Stop()
	}
	c.notify()
}

// updateFilters applies fn and persists the result before returning, so a reload
// issued afterwards always sees stored filters.
func (c *Controller) updateFilters(fn func(*FilterState)) {
	c.mu.Lock()
	fn(&c.filters)
	filters := c.filters
	c.mu.Unlock()
	c.persist(filters)
	c.notify()
}

func (c *Controller) persist(filters FilterState) {
	for _, store := range c.stores {
		if err := store.SaveState(filters); err != nil {
			c.logger.Warn("failed to persist filters", zap.Error(err))
		}
	}
}

// applySelection replaces the selection and re-derives both eligible lists.
func (c *Controller) applySelection(fn func(list []JobSet, sel Selection) (Selection, bool)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, changed := fn(c.jobSets, c.selection)
	if !changed {
		return false
	}
	c.selection = next
	c.cancel.deriveEligible(next)
	c.reprio.deriveEligible(next)
	return true
}
