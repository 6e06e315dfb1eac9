package progress

import (
	"fmt"

	"github.com/kiranshivaraju/akhbar/pkg/models"
)

// StepStatus is the indicator state of one pipeline step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepActive  StepStatus = "active"
	StepDone    StepStatus = "done"
)

const (
	viewTitle          = "OCR Progress"
	waitingMessage     = "OCR processing and summarization is running. Please wait."
	noJobIDWarning     = "No job ID provided. Progress tracking is not available."
	errorTitle         = "Error Loading Progress"
	fatalErrorTitle    = "Progress Tracking Stopped"
	defaultFetchError  = "Failed to fetch progress data. The server may be experiencing issues or restarting."
	jobIDUnavailable   = "Not available"
	completeTitle      = "OCR Processing Complete ✓"
	completeMessage    = "All processing steps have been completed successfully!"
	completeHint       = "You can now view the newspaper in the archive list."
	spinnerCaption     = "Processing images..."
	boundingBoxesTitle = "Bounding boxes"
	boundingBoxesEmpty = "Bounding box image not available"
)

type StepIndicator struct {
	Step   models.Step `json:"step"`
	Label  string      `json:"label"`
	Status StepStatus  `json:"status"`
}

type Alert struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	JobID   string `json:"job_id"`
	Fatal   bool   `json:"fatal"`
}

// Panel is one image area of the view. Image, Spinner and Complete are
// mutually exclusive; Placeholder is the text shown when there is no image.
type Panel struct {
	Title       string          `json:"title"`
	Caption     string          `json:"caption,omitempty"`
	Image       models.ImageRef `json:"image,omitempty"`
	Spinner     bool            `json:"spinner,omitempty"`
	Complete    bool            `json:"complete,omitempty"`
	Placeholder string          `json:"placeholder,omitempty"`
}

// View is everything a progress display needs, derived from the store and poller state.
type View struct {
	Visible       bool                       `json:"visible"`
	Title         string                     `json:"title,omitempty"`
	Status        string                     `json:"status,omitempty"`
	Label         string                     `json:"label,omitempty"`
	JobID         string                     `json:"job_id,omitempty"`
	Phase         Phase                      `json:"phase,omitempty"`
	Waiting       string                     `json:"waiting,omitempty"`
	Warning       string                     `json:"warning,omitempty"`
	Alert         *Alert                     `json:"alert,omitempty"`
	Steps         []StepIndicator            `json:"steps,omitempty"`
	CurrentStep   models.Step                `json:"current_step"`
	Description   string                     `json:"description,omitempty"`
	Current       *Panel                     `json:"current,omitempty"`
	BoundingBoxes *Panel                     `json:"bounding_boxes,omitempty"`
	History       []models.ImageHistoryEntry `json:"history,omitempty"`
	Loading       bool                       `json:"loading,omitempty"`
	Success       string                     `json:"success,omitempty"`
	Error         string                     `json:"error,omitempty"`
	Dismissable   bool                       `json:"dismissable"`
}

// Render derives the view. It never panics, whatever fields are zero.
func Render(state models.JobProgressState, local PollerState) View {
	if !state.ShowProgress {
		return View{}
	}

	v := View{
		Visible:     true,
		Title:       viewTitle,
		Status:      state.Status,
		Label:       state.Label,
		JobID:       state.JobID,
		Phase:       local.Phase,
		Success:     state.Success,
		Error:       state.Error,
		Dismissable: true,
	}

	if state.JobID == "" {
		if state.InProgress {
			v.Waiting = waitingMessage
		} else {
			v.Warning = noJobIDWarning
		}
	}

	if local.Error != nil {
		v.Alert = renderAlert(local.Error, firstNonEmpty(local.JobID, state.JobID, jobIDUnavailable))
	}

	current := local.CurrentStep
	v.CurrentStep = current
	v.Steps = renderSteps(current, local.Completed)

	if current > 0 {
		v.Description = stepDescription(local.Description, current)
		v.Current = renderCurrent(local, current)
	}

	v.BoundingBoxes = renderBoundingBoxes(local.Images, state.ProgressImages)
	v.History = local.History
	v.Loading = current > 0 && len(local.History) == 0 && !local.Completed
	return v
}

func renderAlert(e *models.ErrorSnapshot, jobID string) *Alert {
	a := &Alert{Title: errorTitle, Message: e.Message, JobID: jobID, Fatal: e.Fatal}
	if e.Fatal {
		a.Title = fatalErrorTitle
	}
	if a.Message == "" {
		a.Message = defaultFetchError
	}
	return a
}

func renderSteps(current models.Step, completed bool) []StepIndicator {
	out := make([]StepIndicator, 0, len(models.Steps))
	for _, s := range models.Steps {
		st := StepPending
		switch {
		case s < current, completed && s <= current:
			st = StepDone
		case s == current:
			st = StepActive
		}
		out = append(out, StepIndicator{Step: s, Label: models.StepLabel(s), Status: st})
	}
	return out
}

func renderCurrent(local PollerState, current models.Step) *Panel {
	if local.Completed {
		return &Panel{Title: completeTitle, Caption: completeMessage + " " + completeHint, Complete: true}
	}
	p := &Panel{
		Title:   "Current Progress: " + models.StepLabel(current),
		Caption: stepDescription(local.Description, current),
	}
	if img := local.Images[current]; !img.IsZero() {
		p.Image = img
	} else {
		p.Spinner = true
		p.Placeholder = spinnerCaption
	}
	return p
}

// renderBoundingBoxes prefers the poller's latest step-1 image and falls back
// to the one recorded in the store.
func renderBoundingBoxes(local, stored map[models.Step]models.ImageRef) *Panel {
	p := &Panel{Title: boundingBoxesTitle}
	img := local[models.StepBoundingBoxes]
	if img.IsZero() {
		img = stored[models.StepBoundingBoxes]
	}
	if img.IsZero() {
		p.Placeholder = boundingBoxesEmpty
		return p
	}
	p.Image = img
	return p
}

func stepDescription(desc string, step models.Step) string {
	if desc != "" {
		return desc
	}
	return fmt.Sprintf("Processing OCR step %d", int(step))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
