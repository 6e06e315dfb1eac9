// Package models contains shared data models used across the akhbar codebase.
package models

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Step is one stage of the fixed four-stage OCR pipeline run by the backend.
type Step int

const (
	StepNone          Step = 0
	StepBoundingBoxes Step = 1
	StepCropRegions   Step = 2
	StepRegions       Step = 3
	StepTextExtract   Step = 4
)

// Steps lists the pipeline stages in display order.
var Steps = []Step{StepBoundingBoxes, StepCropRegions, StepRegions, StepTextExtract}

var stepLabels = map[Step]string{
	StepBoundingBoxes: "Detecting bounding boxes",
	StepCropRegions:   "Cropping article regions",
	StepRegions:       "Article regions",
	StepTextExtract:   "OCR text extraction",
}

// StepLabel returns the human-readable label for a step, or "Step N" for unknown steps.
func StepLabel(s Step) string {
	if l, ok := stepLabels[s]; ok {
		return l
	}
	return fmt.Sprintf("Step %d", int(s))
}

const (
	dataURIPrefix    = "data:"
	defaultImageMIME = "image/jpeg"
)

// ImageRef is the canonical form of a step preview image: always a data URI.
// Build it with NormalizeImage; the zero value means "no image".
type ImageRef string

// NormalizeImage turns a backend payload (bare base64 or an existing data URI)
// into an ImageRef. Whitespace-only payloads yield the zero ImageRef.
func NormalizeImage(raw string) ImageRef {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, dataURIPrefix) {
		return ImageRef(raw)
	}
	return ImageRef(dataURIPrefix + defaultImageMIME + ";base64," + raw)
}

// IsZero reports whether the reference carries no image.
func (r ImageRef) IsZero() bool { return r == "" }

// DataURI returns the reference as a data URI string.
func (r ImageRef) DataURI() string { return string(r) }

// MIMEType returns the media type declared in the data URI.
func (r ImageRef) MIMEType() string {
	s := strings.TrimPrefix(string(r), dataURIPrefix)
	if i := strings.IndexAny(s, ";,"); i >= 0 {
		return s[:i]
	}
	return ""
}

// Decode returns the raw image bytes. Only base64 data URIs are supported.
func (r ImageRef) Decode() ([]byte, error) {
	s := string(r)
	comma := strings.IndexByte(s, ',')
	if !strings.HasPrefix(s, dataURIPrefix) || comma < 0 {
		return nil, fmt.Errorf("image is not a data URI")
	}
	if !strings.HasSuffix(s[:comma], ";base64") {
		return nil, fmt.Errorf("image data URI is not base64 encoded")
	}
	return base64.StdEncoding.DecodeString(s[comma+1:])
}

// ProgressSnapshot is one polled read of a job's pipeline state.
type ProgressSnapshot struct {
	Step        Step              `json:"step"`
	StepName    string            `json:"step_name,omitempty"`
	Description string            `json:"description,omitempty"`
	Images      map[Step]ImageRef `json:"images"`
	Completed   bool              `json:"completed"`
}

// ImageSteps returns the steps that carry an image, ascending.
func (s ProgressSnapshot) ImageSteps() []Step {
	steps := make([]Step, 0, len(s.Images))
	for st := range s.Images {
		steps = append(steps, st)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i] < steps[j] })
	return steps
}

// ErrorSnapshot replaces a ProgressSnapshot when the fetch itself failed.
// It describes a transport or parse problem, never a pipeline failure.
type ErrorSnapshot struct {
	Message string    `json:"message"`
	Fatal   bool      `json:"fatal"`
	At      time.Time `json:"at"`
}

// ImageHistoryEntry is one distinct preview image seen while polling a job.
type ImageHistoryEntry struct {
	Step        Step      `json:"step"`
	StepName    string    `json:"step_name,omitempty"`
	Description string    `json:"description,omitempty"`
	Image       ImageRef  `json:"image"`
	InsertedAt  time.Time `json:"inserted_at"`
}

// JobProgressState is the session-wide view of the current OCR job.
// ShowProgress stays true from start until dismissal, independent of InProgress.
type JobProgressState struct {
	InProgress     bool              `json:"in_progress"`
	Status         string            `json:"status"`
	Step           Step              `json:"step"`
	Error          string            `json:"error,omitempty"`
	Success        string            `json:"success,omitempty"`
	Label          string            `json:"label,omitempty"`
	JobID          string            `json:"job_id,omitempty"`
	ProgressImages map[Step]ImageRef `json:"progress_images"`
	Descriptions   map[Step]string   `json:"descriptions"`
	ShowProgress   bool              `json:"show_progress"`
}

// InitialState returns the empty state: nothing running, nothing shown.
func InitialState() JobProgressState {
	return JobProgressState{
		ProgressImages: map[Step]ImageRef{},
		Descriptions:   map[Step]string{},
	}
}

// Clone returns a deep copy safe to hand to readers.
func (s JobProgressState) Clone() JobProgressState {
	c := s
	c.ProgressImages = make(map[Step]ImageRef, len(s.ProgressImages))
	for k, v := range s.ProgressImages {
		c.ProgressImages[k] = v
	}
	c.Descriptions = make(map[Step]string, len(s.Descriptions))
	for k, v := range s.Descriptions {
		c.Descriptions[k] = v
	}
	return c
}
