package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/akhbar/internal/backend"
	"github.com/kiranshivaraju/akhbar/pkg/models"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultFetchTimeout = 10 * time.Second
)

// Phase is the poller lifecycle state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePolling   Phase = "polling"
	PhaseCompleted Phase = "completed"
	PhaseStopped   Phase = "stopped"
	PhaseFailed    Phase = "failed"
)

// PollerState is the poller's local view of the bound job.
type PollerState struct {
	Phase        Phase                           `json:"phase"`
	JobID        string                          `json:"job_id,omitempty"`
	CurrentStep  models.Step                     `json:"current_step"`
	StepName     string                          `json:"step_name,omitempty"`
	Description  string                          `json:"description,omitempty"`
	Images       map[models.Step]models.ImageRef `json:"images"`
	History      []models.ImageHistoryEntry      `json:"history"`
	Completed    bool                            `json:"completed"`
	Error        *models.ErrorSnapshot           `json:"error,omitempty"`
	Polls        int                             `json:"polls"`
	LastPolledAt time.Time                       `json:"last_polled_at,omitempty"`
}

// SnapshotSink receives every snapshot applied by the poller.
type SnapshotSink interface {
	Put(ctx context.Context, jobID string, snap *models.ProgressSnapshot) error
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithFetchTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithSink(s SnapshotSink) PollerOption {
	return func(p *Poller) { p.sink = s }
}

func WithLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// Poller follows one job id at a time. Ticks are serialized: the timer is
// re-armed only after the previous fetch has been handled. Binding a new id
// retires the previous loop, and results from a retired loop are discarded.
type Poller struct {
	fetcher  backend.ProgressFetcher
	store    *Store
	interval time.Duration
	timeout  time.Duration
	sink     SnapshotSink
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	gen        uint64
	cancel     context.CancelFunc
	state      PollerState
	history    *ImageHistory
	pushedStep models.Step
	followRev  uint64
	observers  map[int]func(PollerState)
	nextObs    int

	running atomic.Int32
}

// NewPoller creates an idle poller that pushes step previews into store.
func NewPoller(fetcher backend.ProgressFetcher, store *Store, opts ...PollerOption) *Poller {
	p := &Poller{
		fetcher:   fetcher,
		store:     store,
		interval:  DefaultPollInterval,
		timeout:   DefaultFetchTimeout,
		logger:    slog.Default(),
		now:       time.Now,
		state:     PollerState{Phase: PhaseIdle},
		history:   NewImageHistory(),
		observers: make(map[int]func(PollerState)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Bind starts polling jobID, cancelling any loop for a previous job.
// An empty id stops polling. Binding the id that is already being followed
// (or has already finished) is a no-op.
func (p *Poller) Bind(jobID string) {
	p.mu.Lock()
	changed := p.bindLocked(jobID)
	st := p.snapshotLocked()
	p.mu.Unlock()
	if changed {
		p.notify(st)
	}
}

// Follow keeps the poller bound to the store's current job id until the
// returned function is called. Dismissing the store stops polling.
func (p *Poller) Follow(s *Store) func() {
	apply := func(ch Change) {
		p.mu.Lock()
		if ch.Revision != 0 && ch.Revision <= p.followRev {
			p.mu.Unlock()
			return
		}
		p.followRev = ch.Revision
		changed := p.bindLocked(ch.State.JobID)
		st := p.snapshotLocked()
		p.mu.Unlock()
		if changed {
			p.notify(st)
		}
	}
	unsubscribe := s.OnChange(apply)
	apply(s.Current())
	return unsubscribe
}

// Stop cancels the loop and discards local history.
func (p *Poller) Stop() {
	p.mu.Lock()
	changed := p.stopLocked()
	st := p.snapshotLocked()
	p.mu.Unlock()
	if changed {
		p.notify(st)
	}
}

// State returns a copy of the local state.
func (p *Poller) State() PollerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Running reports how many polling loops are alive.
func (p *Poller) Running() int {
	return int(p.running.Load())
}

// OnUpdate registers fn for every local state change and returns a function that removes it.
func (p *Poller) OnUpdate(fn func(PollerState)) func() {
	p.mu.Lock()
	id := p.nextObs
	p.nextObs++
	p.observers[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.observers, id)
		p.mu.Unlock()
	}
}

func (p *Poller) bindLocked(jobID string) bool {
	if jobID == "" {
		return p.stopLocked()
	}
	if jobID == p.state.JobID {
		switch p.state.Phase {
		case PhasePolling, PhaseCompleted, PhaseFailed:
			return false
		}
	}

	p.retireLocked()
	p.history = NewImageHistory()
	p.pushedStep = models.StepNone
	p.state = PollerState{Phase: PhasePolling, JobID: jobID}
	p.startLocked()

	p.logger.Info("polling ocr progress", "job_id", jobID, "interval", p.interval)
	return true
}

// Retry resumes a poller that stopped on a fatal error, keeping its history.
// It reports whether a loop was started.
func (p *Poller) Retry() bool {
	p.mu.Lock()
	if p.state.Phase != PhaseFailed {
		p.mu.Unlock()
		return false
	}
	p.retireLocked()
	p.state.Phase = PhasePolling
	p.state.Error = nil
	p.startLocked()
	st := p.snapshotLocked()
	p.mu.Unlock()

	p.logger.Info("resumed polling ocr progress", "job_id", st.JobID)
	p.notify(st)
	return true
}

func (p *Poller) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.running.Add(1)
	go p.run(ctx, cancel, p.gen, p.state.JobID)
}

func (p *Poller) stopLocked() bool {
	if p.state.Phase == PhaseIdle || (p.state.Phase == PhaseStopped && p.state.JobID == "") {
		return false
	}
	p.retireLocked()
	if p.state.JobID != "" {
		p.logger.Info("stopped polling ocr progress", "job_id", p.state.JobID)
	}
	p.history = NewImageHistory()
	p.pushedStep = models.StepNone
	p.state = PollerState{Phase: PhaseStopped}
	return true
}

// retireLocked invalidates the current generation so in-flight results are dropped.
func (p *Poller) retireLocked() {
	p.gen++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Poller) run(ctx context.Context, cancel context.CancelFunc, gen uint64, jobID string) {
	defer p.running.Add(-1)
	defer cancel()

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if !p.tick(ctx, gen, jobID) {
			return
		}
		timer.Reset(p.interval)
	}
}

// tick performs one fetch and reports whether polling should continue.
func (p *Poller) tick(ctx context.Context, gen uint64, jobID string) bool {
	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	snap, err := p.fetcher.FetchProgress(fetchCtx, jobID)
	cancel()

	if err == nil && snap == nil {
		err = fmt.Errorf("%w: empty snapshot", backend.ErrMalformedProgress)
	}
	if err != nil {
		return p.applyError(gen, jobID, err)
	}
	return p.applySnapshot(ctx, gen, jobID, snap)
}

func (p *Poller) applySnapshot(ctx context.Context, gen uint64, jobID string, snap *models.ProgressSnapshot) bool {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		p.logger.Debug("discarding progress for retired poll", "job_id", jobID)
		return false
	}

	now := p.now()
	added := p.history.Merge(snap, now)

	images := make(map[models.Step]models.ImageRef, len(snap.Images))
	for k, v := range snap.Images {
		images[k] = v
	}
	p.state.CurrentStep = snap.Step
	p.state.StepName = snap.StepName
	p.state.Description = snap.Description
	p.state.Images = images
	p.state.Completed = snap.Completed
	p.state.Error = nil
	p.state.Polls++
	p.state.LastPolledAt = now

	var push bool
	var pushImage models.ImageRef
	if snap.Step != p.pushedStep {
		if img := snap.Images[snap.Step]; !img.IsZero() {
			p.pushedStep = snap.Step
			push, pushImage = true, img
		}
	}
	if snap.Completed {
		p.state.Phase = PhaseCompleted
	}
	st := p.snapshotLocked()
	p.mu.Unlock()

	p.logger.Debug("ocr progress",
		"job_id", jobID,
		"step", int(snap.Step),
		"new_images", added,
		"completed", snap.Completed,
	)

	// Store observers may call back into Bind, so p.mu must be released here.
	if push {
		p.store.RecordJobStepImage(jobID, snap.Step, pushImage, snap.Description)
	}
	if p.sink != nil {
		if err := p.sink.Put(ctx, jobID, snap); err != nil {
			p.logger.Warn("failed to publish progress snapshot", "job_id", jobID, "error", err)
		}
	}
	if snap.Completed {
		p.logger.Info("ocr pipeline completed, polling finished", "job_id", jobID, "images", len(st.History))
	}
	p.notify(st)
	return !snap.Completed
}

func (p *Poller) applyError(gen uint64, jobID string, err error) bool {
	fatal := errors.Is(err, backend.ErrMissingToken)

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return false
	}
	p.state.Error = &models.ErrorSnapshot{Message: err.Error(), Fatal: fatal, At: p.now()}
	p.state.Completed = false
	p.state.Polls++
	if fatal {
		p.state.Phase = PhaseFailed
	}
	st := p.snapshotLocked()
	p.mu.Unlock()

	if fatal {
		p.logger.Error("progress polling stopped", "job_id", jobID, "error", err)
	} else {
		p.logger.Warn("progress fetch failed, will retry", "job_id", jobID, "error", err)
	}
	p.notify(st)
	return !fatal
}

func (p *Poller) snapshotLocked() PollerState {
	st := p.state
	st.Images = make(map[models.Step]models.ImageRef, len(p.state.Images))
	for k, v := range p.state.Images {
		st.Images[k] = v
	}
	st.History = p.history.Entries()
	if p.state.Error != nil {
		e := *p.state.Error
		st.Error = &e
	}
	return st
}

func (p *Poller) notify(st PollerState) {
	p.mu.Lock()
	fns := make([]func(PollerState), 0, len(p.observers))
	for _, fn := range p.observers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}
