// Package progress tracks one OCR job at a time: the shared job state, the
// poller that follows the backend pipeline, and the rendered progress view.
package progress

import (
	"log/slog"
	"sync"

	"github.com/kiranshivaraju/akhbar/pkg/models"
)

// Status lines written by the store on start and completion.
const (
	StatusRunning   = "OCR processing in progress..."
	StatusSucceeded = "Processing completed successfully!"
	StatusFailed    = "Processing completed with errors."
)

// Cycle identifies one job started with Store.Start. Dismiss and a later
// Start both retire the current cycle.
type Cycle uint64

// Change is delivered to store observers after every mutation.
// Revision grows by one per mutation so observers can drop out-of-order deliveries.
type Change struct {
	Revision uint64
	Cycle    Cycle
	State    models.JobProgressState
}

// Store is the single writer of JobProgressState for one session.
// Readers get copies; observers are called outside the lock.
type Store struct {
	mu        sync.Mutex
	state     models.JobProgressState
	cycle     Cycle
	revision  uint64
	observers map[int]func(Change)
	nextObs   int
	logger    *slog.Logger
}

// NewStore returns a store holding the initial empty state.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		state:     models.InitialState(),
		observers: make(map[int]func(Change)),
		logger:    logger,
	}
}

// Start begins a new job cycle, superseding whatever was running.
// The job id is attached later with AttachJobID.
func (s *Store) Start(label string) Cycle {
	s.mu.Lock()
	s.cycle++
	s.state = models.JobProgressState{
		InProgress:     true,
		Status:         StatusRunning,
		Step:           models.StepBoundingBoxes,
		Label:          label,
		ProgressImages: map[models.Step]models.ImageRef{},
		Descriptions:   map[models.Step]string{},
		ShowProgress:   true,
	}
	cycle := s.cycle
	ch := s.changeLocked()
	s.mu.Unlock()

	s.logger.Info("ocr job started", "cycle", cycle, "label", label)
	s.notify(ch)
	return cycle
}

// AttachJobID records the backend-assigned id for cycle. It returns false and
// changes nothing when cycle has been dismissed or superseded.
func (s *Store) AttachJobID(cycle Cycle, jobID string) bool {
	s.mu.Lock()
	if cycle != s.cycle || !s.state.ShowProgress {
		s.mu.Unlock()
		s.logger.Warn("ignoring job id for stale cycle", "cycle", cycle, "job_id", jobID)
		return false
	}
	s.state.JobID = jobID
	ch := s.changeLocked()
	s.mu.Unlock()

	s.logger.Info("ocr job id attached", "cycle", cycle, "job_id", jobID)
	s.notify(ch)
	return true
}

// RecordStepImage merges one step's preview and description. InProgress and
// ShowProgress are left untouched.
func (s *Store) RecordStepImage(step models.Step, image models.ImageRef, description string) {
	s.mu.Lock()
	s.recordLocked(step, image, description)
	ch := s.changeLocked()
	s.mu.Unlock()
	s.notify(ch)
}

// RecordJobStepImage is RecordStepImage guarded by the job id, so a late
// update for a replaced job cannot land in the current one.
func (s *Store) RecordJobStepImage(jobID string, step models.Step, image models.ImageRef, description string) bool {
	s.mu.Lock()
	if jobID == "" || s.state.JobID != jobID {
		s.mu.Unlock()
		return false
	}
	s.recordLocked(step, image, description)
	ch := s.changeLocked()
	s.mu.Unlock()
	s.notify(ch)
	return true
}

func (s *Store) recordLocked(step models.Step, image models.ImageRef, description string) {
	s.state.Step = step
	if !image.IsZero() {
		s.state.ProgressImages[step] = image
	}
	s.state.Descriptions[step] = description
}

// Complete ends the running state of cycle. A non-empty success message marks
// the job as succeeded, otherwise errMsg is recorded. Images and visibility are
// kept so the result stays inspectable. InProgress flips to false at most once
// per cycle; later or stale calls return false.
func (s *Store) Complete(cycle Cycle, success, errMsg string) bool {
	s.mu.Lock()
	if cycle != s.cycle || !s.state.InProgress {
		s.mu.Unlock()
		return false
	}
	s.state.InProgress = false
	s.state.Success = success
	s.state.Error = errMsg
	if success != "" {
		s.state.Status = StatusSucceeded
	} else {
		s.state.Status = StatusFailed
	}
	ch := s.changeLocked()
	s.mu.Unlock()

	s.logger.Info("ocr job completed", "cycle", cycle, "job_id", ch.State.JobID, "succeeded", success != "")
	s.notify(ch)
	return true
}

// Dismiss resets to the initial state and retires the current cycle.
func (s *Store) Dismiss() {
	s.mu.Lock()
	s.cycle++
	s.state = models.InitialState()
	ch := s.changeLocked()
	s.mu.Unlock()

	s.logger.Info("ocr progress dismissed")
	s.notify(ch)
}

// State returns a copy of the current state.
func (s *Store) State() models.JobProgressState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Current returns the current state with its cycle and revision.
func (s *Store) Current() Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Change{Revision: s.revision, Cycle: s.cycle, State: s.state.Clone()}
}

// OnChange registers fn for every later mutation and returns a function that removes it.
func (s *Store) OnChange(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Store) changeLocked() Change {
	s.revision++
	return Change{Revision: s.revision, Cycle: s.cycle, State: s.state.Clone()}
}

func (s *Store) notify(ch Change) {
	s.mu.Lock()
	fns := make([]func(Change), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}
