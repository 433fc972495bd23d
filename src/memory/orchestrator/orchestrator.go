// Package orchestrator owns the graph and vector memories and coordinates
// intelligent writes, federated search, batched conversation updates and
// retention across them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/poqudrof/Locrits-sub000/src/concurrent"
	"github.com/poqudrof/Locrits-sub000/src/memory/decision"
	"github.com/poqudrof/Locrits-sub000/src/memory/graph"
	"github.com/poqudrof/Locrits-sub000/src/memory/model"
	"github.com/poqudrof/Locrits-sub000/src/memory/vector"
)

// MetaRationale records why the decision engine routed an item.
const MetaRationale = "decision_rationale"

// Options tunes the orchestrator and its drain scheduler.
type Options struct {
	Namespace            string
	AutoUpdate           bool
	UpdateInterval       int
	MaxBatchSize         int
	DrainSchedule        string
	Workers              int
	DefaultRetentionDays int
	Clock                func() time.Time
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Namespace:            "default",
		AutoUpdate:           true,
		UpdateInterval:       10,
		MaxBatchSize:         50,
		DrainSchedule:        "@hourly",
		Workers:              4,
		DefaultRetentionDays: 30,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Namespace == "" {
		o.Namespace = def.Namespace
	}
	if o.UpdateInterval <= 0 {
		o.UpdateInterval = def.UpdateInterval
	}
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = def.MaxBatchSize
	}
	if o.Workers <= 0 {
		o.Workers = def.Workers
	}
	if o.DefaultRetentionDays <= 0 {
		o.DefaultRetentionDays = def.DefaultRetentionDays
	}
	return o
}

// Orchestrator routes memory operations across the graph and vector
// services. Either service may be nil when it failed to start; the
// orchestrator then serves requests from the other one.
type Orchestrator struct {
	graph    *graph.Service
	vector   *vector.Service
	analyzer decision.Analyzer
	opts     Options
	logger   *log.Logger
	clock    func() time.Time
	metrics  *Metrics
	pool     *concurrent.WorkerPool
	sched    scheduler

	// runCtx outlives callers so background drains survive request cancellation.
	runCtx    context.Context
	cancelRun context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New builds an orchestrator over the given services. A nil analyzer selects
// the keyword engine routed against the services that are present.
func New(g *graph.Service, v *vector.Service, analyzer decision.Analyzer, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	if analyzer == nil {
		analyzer = decision.NewKeywordEngine(decision.Availability{Graph: g != nil, Vector: v != nil})
	}
	o := &Orchestrator{
		graph:    g,
		vector:   v,
		analyzer: analyzer,
		opts:     opts,
		logger:   log.NewWithOptions(os.Stderr, log.Options{Prefix: "orchestrator"}),
		clock:    opts.Clock,
		metrics:  &Metrics{},
		pool:     concurrent.NewWorkerPool(opts.Workers),
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	o.runCtx, o.cancelRun = context.WithCancel(context.Background())
	o.sched.lastDrain = o.now()
	return o
}

// WithLogger overrides the default logger.
func (o *Orchestrator) WithLogger(logger *log.Logger) *Orchestrator {
	if logger != nil {
		o.logger = logger
	}
	return o
}

// Graph returns the graph service, or nil when it is unavailable.
func (o *Orchestrator) Graph() *graph.Service { return o.graph }

// Vector returns the vector service, or nil when it is unavailable.
func (o *Orchestrator) Vector() *vector.Service { return o.vector }

// Analyzer returns the classifier used for intelligent writes.
func (o *Orchestrator) Analyzer() decision.Analyzer { return o.analyzer }

// Available reports which services can serve requests.
func (o *Orchestrator) Available() decision.Availability {
	return decision.Availability{Graph: o.graph != nil, Vector: o.vector != nil}
}

// Metrics returns the runtime counters.
func (o *Orchestrator) Metrics() MetricsSnapshot { return o.metrics.Snapshot() }

func (o *Orchestrator) now() time.Time { return o.clock().UTC() }

func (o *Orchestrator) ready() error {
	if o == nil || o.closed.Load() {
		return model.ErrNotInitialized
	}
	if o.graph == nil && o.vector == nil {
		return model.ErrBackendUnavailable
	}
	return nil
}

// writeResult is the outcome of routing one decision.
type writeResult struct {
	IDs     []string
	Created int
	Updated int
}

// StoreIntelligently classifies content, writes it to the services the
// decision names and applies any relationship directives. Hybrid decisions
// return the graph id first. When part of the write fails, the ids that were
// written are returned together with the error.
func (o *Orchestrator) StoreIntelligently(ctx context.Context, content string, dctx decision.Context, importance *float64) ([]string, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, model.NewValidationError("content", "content must not be empty")
	}
	if importance != nil && (*importance < 0 || *importance > 1) {
		return nil, model.NewValidationError("importance", fmt.Sprintf("importance %.3f outside [0,1]", *importance))
	}
	d := o.analyzer.Analyze(content, dctx)
	if importance != nil {
		d.Importance = *importance
	}
	meta := map[string]any{}
	if dctx.Role != "" {
		meta[model.MetaRole] = dctx.Role
	}
	res, err := o.write(ctx, d, meta)
	o.noteActivity(1)
	return res.IDs, err
}

// StoreDecision writes d.Content under an explicit decision instead of the
// analyzer's. meta is merged into the stored metadata.
func (o *Orchestrator) StoreDecision(ctx context.Context, d model.Decision, meta map[string]any) ([]string, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(d.Content) == "" {
		return nil, model.NewValidationError("content", "content must not be empty")
	}
	if d.Importance < 0 || d.Importance > 1 {
		return nil, model.NewValidationError("importance", fmt.Sprintf("importance %.3f outside [0,1]", d.Importance))
	}
	if _, err := model.ParseMemoryType(string(d.MemoryType)); err != nil {
		return nil, err
	}
	res, err := o.write(ctx, d, model.CloneMetadata(meta))
	o.noteActivity(1)
	return res.IDs, err
}

// write routes one decision. Hybrid writes get distinct ids that reference
// each other through the hybrid_peer metadata key.
func (o *Orchestrator) write(ctx context.Context, d model.Decision, meta map[string]any) (writeResult, error) {
	toGraph, toVector, err := o.route(d.MemoryType)
	if err != nil {
		return writeResult{}, err
	}
	item := model.NewMemoryItem(d.Content, d.MemoryType, d.Importance, o.now())
	item.Tags = model.NormalizeTags(d.Tags)
	for k, v := range meta {
		item.Metadata[k] = v
	}
	if d.Rationale != "" {
		item.Metadata[MetaRationale] = d.Rationale
	}

	var res writeResult
	graphID := ""
	switch {
	case toGraph && toVector:
		gItem, vItem := item.Clone(), item.Clone()
		vItem.ID = uuid.NewString()
		gItem.Metadata[model.MetaHybridPeer] = vItem.ID
		vItem.Metadata[model.MetaHybridPeer] = gItem.ID
		var gid, vid string
		gErr, vErr := concurrent.Both(ctx,
			func(ctx context.Context) error {
				var err error
				gid, err = o.graph.Store(ctx, gItem)
				return err
			},
			func(ctx context.Context) error {
				var err error
				vid, err = o.vector.Store(ctx, vItem)
				return err
			},
		)
		if gErr == nil {
			res.add(gid, gItem.ID)
			graphID = gid
		}
		if vErr == nil {
			res.add(vid, vItem.ID)
		}
		if gErr == nil && vErr == nil {
			o.repairPeers(ctx, gid, gItem.ID, vid, vItem.ID)
		}
		if err := errors.Join(wrapBranch("graph", gErr), wrapBranch("vector", vErr)); err != nil {
			o.logger.Warn("hybrid write incomplete", "graph", gid, "vector", vid, "err", err)
			o.metrics.IncStored(len(res.IDs))
			return res, err
		}
	case toGraph:
		id, err := o.graph.Store(ctx, item)
		if err != nil {
			return res, wrapBranch("graph", err)
		}
		res.add(id, item.ID)
		graphID = id
	default:
		id, err := o.vector.Store(ctx, item)
		if err != nil {
			return res, wrapBranch("vector", err)
		}
		res.add(id, item.ID)
	}
	o.metrics.IncStored(len(res.IDs))

	if len(d.Relationships) > 0 {
		if err := o.link(ctx, graphID, d.Relationships); err != nil {
			return res, err
		}
	}
	o.logger.Debug("stored memory", "type", d.MemoryType, "ids", res.IDs)
	return res, nil
}

func (r *writeResult) add(got, planned string) {
	r.IDs = append(r.IDs, got)
	if got == planned {
		r.Created++
	} else {
		r.Updated++
	}
}

// repairPeers fixes the cross references when a merging kind answered with
// the id of an existing record.
func (o *Orchestrator) repairPeers(ctx context.Context, gid, plannedG, vid, plannedV string) {
	if vid != plannedV {
		if _, err := o.graph.Update(ctx, gid, model.Fields{Metadata: map[string]any{model.MetaHybridPeer: vid}}); err != nil {
			o.logger.Warn("hybrid peer update failed", "id", gid, "err", err)
		}
	}
	if gid != plannedG {
		if _, err := o.vector.Update(ctx, vid, model.Fields{Metadata: map[string]any{model.MetaHybridPeer: gid}}); err != nil {
			o.logger.Warn("hybrid peer update failed", "id", vid, "err", err)
		}
	}
}

// route maps a memory type onto the services that are present.
func (o *Orchestrator) route(t model.MemoryType) (toGraph, toVector bool, err error) {
	hasGraph, hasVector := o.graph != nil, o.vector != nil
	switch t {
	case model.MemoryTypeHybrid:
		return hasGraph, hasVector, nil
	case model.MemoryTypeGraph:
		if hasGraph {
			return true, false, nil
		}
	case model.MemoryTypeVector:
		if hasVector {
			return false, true, nil
		}
	default:
		return false, false, model.NewValidationError("memory_type", "unknown memory type "+string(t))
	}
	o.logger.Warn("preferred memory unavailable, degrading", "type", t)
	return hasGraph, hasVector && !hasGraph, nil
}

func (o *Orchestrator) link(ctx context.Context, from string, directives []model.RelationshipDirective) error {
	if from == "" {
		return fmt.Errorf("relationships need a graph node: %w", model.ErrBackendUnavailable)
	}
	var errs []error
	for _, r := range directives {
		if _, err := o.graph.CreateRelationship(ctx, from, r.TargetID, r.Type, r.Properties); err != nil {
			errs = append(errs, fmt.Errorf("relationship %s -> %s: %w", from, r.TargetID, err))
		}
	}
	return errors.Join(errs...)
}

func wrapBranch(service string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s memory: %w", service, err)
}

// CleanupReport lists what each service removed. A service that failed
// reports its error without blocking the other.
type CleanupReport struct {
	RetentionDays int    `json:"retention_days"`
	GraphCleaned  int    `json:"graph_cleaned"`
	VectorCleaned int    `json:"vector_cleaned"`
	VectorExpired int    `json:"vector_expired"`
	VectorEvicted int    `json:"vector_evicted"`
	GraphError    string `json:"graph_error,omitempty"`
	VectorError   string `json:"vector_error,omitempty"`
}

// Cleanup applies retention to both services concurrently. A nil
// retentionDays uses the configured default. The error is non-nil only when
// every available service failed.
func (o *Orchestrator) Cleanup(ctx context.Context, retentionDays *int) (CleanupReport, error) {
	if err := o.ready(); err != nil {
		return CleanupReport{}, err
	}
	days := o.opts.DefaultRetentionDays
	if retentionDays != nil {
		days = *retentionDays
	}
	if days < 1 {
		return CleanupReport{}, model.NewValidationError("retention_days", "retention days must be at least 1")
	}
	report := CleanupReport{RetentionDays: days}
	gErr, vErr := concurrent.Both(ctx,
		func(ctx context.Context) error {
			if o.graph == nil {
				return nil
			}
			n, err := o.graph.Cleanup(ctx, days)
			report.GraphCleaned = n
			return err
		},
		func(ctx context.Context) error {
			if o.vector == nil {
				return nil
			}
			st, err := o.vector.Cleanup(ctx, days)
			report.VectorCleaned, report.VectorExpired, report.VectorEvicted = st.Removed(), st.Expired, st.Evicted
			return err
		},
	)
	if gErr != nil {
		report.GraphError = gErr.Error()
		o.logger.Warn("graph cleanup failed", "err", gErr)
	}
	if vErr != nil {
		report.VectorError = vErr.Error()
		o.logger.Warn("vector cleanup failed", "err", vErr)
	}
	o.metrics.IncCleaned(report.GraphCleaned + report.VectorCleaned)
	graphFailed := o.graph == nil || gErr != nil
	vectorFailed := o.vector == nil || vErr != nil
	if graphFailed && vectorFailed {
		return report, errors.Join(wrapBranch("graph", gErr), wrapBranch("vector", vErr))
	}
	return report, nil
}

// Services tells which memories are online.
type Services struct {
	Graph  bool `json:"graph"`
	Vector bool `json:"vector"`
}

// Status is the snapshot served by the status tool and CLI command.
type Status struct {
	Namespace   string          `json:"namespace"`
	Services    Services        `json:"services"`
	Graph       *graph.Stats    `json:"graph,omitempty"`
	Vector      *vector.Stats   `json:"vector,omitempty"`
	GraphError  string          `json:"graph_error,omitempty"`
	VectorError string          `json:"vector_error,omitempty"`
	Scheduler   SchedulerStatus `json:"scheduler"`
	Metrics     MetricsSnapshot `json:"metrics"`
}

// Status gathers service statistics, scheduler state and counters.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	if err := o.ready(); err != nil {
		return Status{}, err
	}
	st := Status{
		Namespace: o.opts.Namespace,
		Services:  Services{Graph: o.graph != nil, Vector: o.vector != nil},
		Scheduler: o.schedulerStatus(),
		Metrics:   o.metrics.Snapshot(),
	}
	if o.graph != nil {
		if gs, err := o.graph.Stats(ctx); err != nil {
			st.GraphError = err.Error()
		} else {
			st.Graph = &gs
		}
	}
	if o.vector != nil {
		if vs, err := o.vector.Stats(ctx); err != nil {
			st.VectorError = err.Error()
		} else {
			st.Vector = &vs
		}
	}
	return st, nil
}

// Close waits for the in-flight drain and closes both services. Pending
// writes that were never drained are dropped with a warning.
func (o *Orchestrator) Close() error {
	if o == nil {
		return nil
	}
	o.closeOnce.Do(func() {
		o.sched.mu.Lock()
		o.closed.Store(true)
		o.sched.mu.Unlock()
		o.sched.wg.Wait()
		o.cancelRun()
		if n := o.Pending(); n > 0 {
			o.logger.Warn("closing with undrained writes", "pending", n)
		}
		var errs []error
		if o.graph != nil {
			errs = append(errs, o.graph.Close())
		}
		if o.vector != nil {
			errs = append(errs, o.vector.Close())
		}
		o.closeErr = errors.Join(errs...)
	})
	return o.closeErr
}
