package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/poqudrof/Locrits-sub000/src/concurrent"
	"github.com/poqudrof/Locrits-sub000/src/memory/decision"
	"github.com/poqudrof/Locrits-sub000/src/memory/model"
)

// ErrDrainInProgress is returned when a drain is requested while one runs.
var ErrDrainInProgress = errors.New("memory drain already in progress")

// DrainStatus reports what a conversation update did to the scheduler.
type DrainStatus string

const (
	DrainIdle       DrainStatus = "idle"
	DrainStarted    DrainStatus = "started"
	DrainInProgress DrainStatus = "already in progress"
	DrainDisabled   DrainStatus = "disabled"
)

// Trigger names the condition that started a drain.
type Trigger string

const (
	TriggerInterval  Trigger = "interval"
	TriggerSchedule  Trigger = "schedule"
	TriggerBatchSize Trigger = "batch_size"
	TriggerForce     Trigger = "force"
)

// maxReportErrors caps the error strings kept on a drain report.
const maxReportErrors = 10

// Message is one conversation turn handed to UpdateFromConversation.
type Message struct {
	Role        string         `json:"role"`
	Content     string         `json:"content"`
	SessionID   string         `json:"session_id,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Important   bool           `json:"important,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// UpdateStats describes how a batch of messages was accepted. The write
// counts of the drain it may have started appear in Status once it ends,
// or in the report returned by ForceUpdate.
type UpdateStats struct {
	Received  int         `json:"received"`
	Processed int         `json:"processed"`
	Failed    int         `json:"failed"`
	Pending   int         `json:"pending"`
	Drain     DrainStatus `json:"drain"`
	Trigger   Trigger     `json:"trigger,omitempty"`
}

// DrainReport summarizes one finished drain.
type DrainReport struct {
	Trigger   Trigger       `json:"trigger"`
	Processed int           `json:"processed"`
	Created   int           `json:"created"`
	Updated   int           `json:"updated"`
	Failed    int           `json:"failed"`
	Batches   int           `json:"batches"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Errors    []string      `json:"errors,omitempty"`
}

func (r *DrainReport) fail(err error) {
	r.Failed++
	if len(r.Errors) < maxReportErrors {
		r.Errors = append(r.Errors, err.Error())
	}
}

// SchedulerStatus is the scheduler part of Status.
type SchedulerStatus struct {
	AutoUpdate     bool         `json:"auto_update"`
	Pending        int          `json:"pending"`
	SinceDrain     int          `json:"since_drain"`
	Draining       bool         `json:"draining"`
	LastDrain      time.Time    `json:"last_drain"`
	NextDeadline   *time.Time   `json:"next_deadline,omitempty"`
	LastReport     *DrainReport `json:"last_report,omitempty"`
	UpdateInterval int          `json:"update_interval"`
	MaxBatchSize   int          `json:"max_batch_size"`
}

type pendingWrite struct {
	decision model.Decision
	meta     map[string]any
	session  string
}

type scheduler struct {
	mu         sync.Mutex
	queue      []pendingWrite
	sinceDrain int
	lastDrain  time.Time
	// done is non-nil while a drain runs and is closed when it ends.
	done chan struct{}
	last *DrainReport
	wg   sync.WaitGroup
}

// UpdateFromConversation classifies messages, queues them as pending writes
// and starts a background drain when a trigger fires. A message that cannot
// be classified is counted as failed and the rest continue.
func (o *Orchestrator) UpdateFromConversation(ctx context.Context, messages []Message) (UpdateStats, error) {
	if err := o.ready(); err != nil {
		return UpdateStats{}, err
	}
	if err := ctx.Err(); err != nil {
		return UpdateStats{}, err
	}
	stats := UpdateStats{Received: len(messages)}
	writes := make([]pendingWrite, 0, len(messages))
	for i, m := range messages {
		w, err := o.prepare(m)
		if err != nil {
			stats.Failed++
			o.logger.Warn("skipping conversation message", "index", i, "err", err)
			continue
		}
		writes = append(writes, w)
	}
	stats.Processed = len(writes)
	o.metrics.IncFailed(stats.Failed)

	o.sched.mu.Lock()
	o.sched.queue = append(o.sched.queue, writes...)
	o.sched.sinceDrain += len(writes)
	o.sched.mu.Unlock()

	stats.Drain, stats.Trigger = o.maybeDrain()
	stats.Pending = o.Pending()
	return stats, nil
}

// prepare classifies one message. Analyzer panics become errors so a bad
// message never aborts the batch.
func (o *Orchestrator) prepare(m Message) (w pendingWrite, err error) {
	content := strings.TrimSpace(m.Content)
	if content == "" {
		return w, model.NewValidationError("content", "content must not be empty")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classify message: %v", r)
		}
	}()
	dctx := decision.Context{
		Role:        strings.ToLower(strings.TrimSpace(m.Role)),
		ContentType: strings.ToLower(strings.TrimSpace(m.ContentType)),
		Important:   m.Important,
	}
	d := o.analyzer.Analyze(m.Content, dctx)
	meta := model.CloneMetadata(m.Metadata)
	if meta == nil {
		meta = map[string]any{}
	}
	if dctx.Role != "" {
		meta[model.MetaRole] = dctx.Role
	}
	if m.SessionID != "" {
		meta[model.MetaSessionID] = m.SessionID
	}
	if m.UserID != "" {
		meta[model.MetaUserID] = m.UserID
	}
	return pendingWrite{decision: d, meta: meta, session: m.SessionID}, nil
}

// noteActivity counts direct writes toward the interval trigger.
func (o *Orchestrator) noteActivity(n int) {
	o.sched.mu.Lock()
	o.sched.sinceDrain += n
	o.sched.mu.Unlock()
	o.maybeDrain()
}

// Pending returns the number of queued writes.
func (o *Orchestrator) Pending() int {
	o.sched.mu.Lock()
	defer o.sched.mu.Unlock()
	return len(o.sched.queue)
}

// maybeDrain starts a drain when an automatic trigger fires.
func (o *Orchestrator) maybeDrain() (DrainStatus, Trigger) {
	if !o.opts.AutoUpdate {
		return DrainDisabled, ""
	}
	trigger, due := o.dueTrigger(o.now())
	if !due {
		return DrainIdle, ""
	}
	if _, err := o.startDrain(trigger); err != nil {
		return DrainInProgress, trigger
	}
	return DrainStarted, trigger
}

// dueTrigger evaluates the automatic triggers. Nothing fires on an empty queue.
func (o *Orchestrator) dueTrigger(now time.Time) (Trigger, bool) {
	o.sched.mu.Lock()
	defer o.sched.mu.Unlock()
	pending := len(o.sched.queue)
	switch {
	case pending == 0:
		return "", false
	case pending >= o.opts.MaxBatchSize:
		return TriggerBatchSize, true
	case o.sched.sinceDrain >= o.opts.UpdateInterval:
		return TriggerInterval, true
	}
	if deadline, ok := o.deadlineLocked(); ok && !now.Before(deadline) {
		return TriggerSchedule, true
	}
	return "", false
}

// deadlineLocked is the first schedule tick after the last drain.
func (o *Orchestrator) deadlineLocked() (time.Time, bool) {
	if o.opts.DrainSchedule == "" {
		return time.Time{}, false
	}
	next, err := gronx.NextTickAfter(o.opts.DrainSchedule, o.sched.lastDrain, false)
	if err != nil {
		return time.Time{}, false
	}
	return next, true
}

// startDrain launches a background drain unless one is already running.
func (o *Orchestrator) startDrain(trigger Trigger) (<-chan struct{}, error) {
	o.sched.mu.Lock()
	defer o.sched.mu.Unlock()
	if o.closed.Load() {
		return nil, model.ErrNotInitialized
	}
	if o.sched.done != nil {
		return nil, ErrDrainInProgress
	}
	done := make(chan struct{})
	o.sched.done = done
	o.sched.sinceDrain = 0
	o.sched.lastDrain = o.now()
	o.sched.wg.Add(1)
	go o.drain(trigger, done)
	return done, nil
}

// drain empties the queue in batches of at most MaxBatchSize. Writes queued
// while it runs are picked up before it finishes.
func (o *Orchestrator) drain(trigger Trigger, done chan struct{}) {
	defer o.sched.wg.Done()
	ctx := o.runCtx
	report := &DrainReport{Trigger: trigger, StartedAt: o.now()}
	o.logger.Debug("drain started", "trigger", trigger)
	for {
		o.sched.mu.Lock()
		if len(o.sched.queue) == 0 {
			report.Duration = o.now().Sub(report.StartedAt)
			o.sched.last = report
			o.sched.done = nil
			o.sched.mu.Unlock()
			close(done)
			break
		}
		n := min(len(o.sched.queue), o.opts.MaxBatchSize)
		batch := append([]pendingWrite(nil), o.sched.queue[:n]...)
		o.sched.queue = o.sched.queue[n:]
		o.sched.mu.Unlock()

		o.processBatch(ctx, batch, report)
		report.Batches++
	}
	o.metrics.IncDrained(report.Processed)
	o.metrics.IncFailed(report.Failed)
	o.logger.Info("drain finished", "trigger", trigger, "processed", report.Processed,
		"created", report.Created, "updated", report.Updated, "failed", report.Failed)
}

// drainPhases lists the write groups of a drain. Graph and hybrid writes
// share a phase so a session's reply chain follows queue order; vector-only
// writes never touch the graph.
var drainPhases = [][]model.MemoryType{
	{model.MemoryTypeGraph, model.MemoryTypeHybrid},
	{model.MemoryTypeVector},
}

func phaseOf(t model.MemoryType) int {
	for i, types := range drainPhases {
		if slices.Contains(types, t) {
			return i
		}
	}
	return -1
}

// processBatch groups writes by predicted type and dispatches each group
// through the worker pool. Within a group writes of one session stay in
// queue order.
func (o *Orchestrator) processBatch(ctx context.Context, batch []pendingWrite, report *DrainReport) {
	groups := make([][]pendingWrite, len(drainPhases))
	var mu sync.Mutex
	for _, w := range batch {
		i := phaseOf(w.decision.MemoryType)
		if i < 0 {
			report.Processed++
			report.fail(fmt.Errorf("unroutable memory type %q", w.decision.MemoryType))
			continue
		}
		groups[i] = append(groups[i], w)
	}
	for _, group := range groups {
		runs := bySession(group)
		if len(runs) == 0 {
			continue
		}
		errs := concurrent.Settle(ctx, o.pool, runs, func(ctx context.Context, run []pendingWrite) error {
			for _, w := range run {
				res, err := o.write(ctx, w.decision, w.meta)
				mu.Lock()
				report.Processed++
				report.Created += res.Created
				report.Updated += res.Updated
				if err != nil {
					report.fail(err)
				}
				mu.Unlock()
			}
			return nil
		})
		for i, err := range errs {
			if err == nil {
				continue
			}
			// The pool refused the run before any write started.
			mu.Lock()
			for range runs[i] {
				report.Processed++
				report.fail(err)
			}
			mu.Unlock()
		}
	}
}

// bySession splits writes into per-session runs in first-seen order.
func bySession(writes []pendingWrite) [][]pendingWrite {
	if len(writes) == 0 {
		return nil
	}
	index := map[string]int{}
	var runs [][]pendingWrite
	for _, w := range writes {
		i, ok := index[w.session]
		if !ok {
			i = len(runs)
			index[w.session] = i
			runs = append(runs, nil)
		}
		runs[i] = append(runs[i], w)
	}
	return runs
}

// ForceUpdate drains the queue now and waits for the drain to finish. It
// returns ErrDrainInProgress when a drain is already running. If ctx ends
// first the drain keeps going in the background.
func (o *Orchestrator) ForceUpdate(ctx context.Context) (DrainReport, error) {
	if err := o.ready(); err != nil {
		return DrainReport{}, err
	}
	done, err := o.startDrain(TriggerForce)
	if err != nil {
		return DrainReport{}, err
	}
	select {
	case <-ctx.Done():
		return DrainReport{}, ctx.Err()
	case <-done:
	}
	o.sched.mu.Lock()
	defer o.sched.mu.Unlock()
	if o.sched.last == nil {
		return DrainReport{}, nil
	}
	return *o.sched.last, nil
}

func (o *Orchestrator) schedulerStatus() SchedulerStatus {
	o.sched.mu.Lock()
	defer o.sched.mu.Unlock()
	st := SchedulerStatus{
		AutoUpdate:     o.opts.AutoUpdate,
		Pending:        len(o.sched.queue),
		SinceDrain:     o.sched.sinceDrain,
		Draining:       o.sched.done != nil,
		LastDrain:      o.sched.lastDrain,
		UpdateInterval: o.opts.UpdateInterval,
		MaxBatchSize:   o.opts.MaxBatchSize,
	}
	if deadline, ok := o.deadlineLocked(); ok {
		st.NextDeadline = &deadline
	}
	if o.sched.last != nil {
		last := *o.sched.last
		st.LastReport = &last
	}
	return st
}

// Run wakes at every tick of the drain schedule and drains pending writes.
// It returns when ctx ends or the orchestrator closes.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.opts.DrainSchedule == "" {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		next, err := gronx.NextTickAfter(o.opts.DrainSchedule, o.now(), false)
		if err != nil {
			return fmt.Errorf("drain schedule %q: %w", o.opts.DrainSchedule, err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-o.runCtx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if o.closed.Load() || o.Pending() == 0 {
			continue
		}
		if _, err := o.startDrain(TriggerSchedule); err != nil {
			o.logger.Debug("scheduled drain skipped", "err", err)
		}
	}
}
