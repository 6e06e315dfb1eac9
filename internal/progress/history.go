package progress

import (
	"time"

	"github.com/kiranshivaraju/akhbar/pkg/models"
)

type historyKey struct {
	step  models.Step
	image models.ImageRef
}

// ImageHistory is the append-only log of distinct previews seen for one job.
// Two entries are the same when both step and image match, so a step may
// legitimately contribute several different previews over time.
type ImageHistory struct {
	entries []models.ImageHistoryEntry
	seen    map[historyKey]struct{}
}

func NewImageHistory() *ImageHistory {
	return &ImageHistory{seen: make(map[historyKey]struct{})}
}

// Merge appends the snapshot's unseen images in ascending step order and
// returns how many were added.
func (h *ImageHistory) Merge(snap *models.ProgressSnapshot, at time.Time) int {
	if snap == nil {
		return 0
	}
	added := 0
	for _, step := range snap.ImageSteps() {
		img := snap.Images[step]
		if img.IsZero() {
			continue
		}
		key := historyKey{step: step, image: img}
		if _, ok := h.seen[key]; ok {
			continue
		}
		h.seen[key] = struct{}{}
		h.entries = append(h.entries, models.ImageHistoryEntry{
			Step:        step,
			StepName:    snap.StepName,
			Description: snap.Description,
			Image:       img,
			InsertedAt:  at,
		})
		added++
	}
	return added
}

func (h *ImageHistory) Len() int { return len(h.entries) }

// Entries returns a copy of the log in insertion order.
func (h *ImageHistory) Entries() []models.ImageHistoryEntry {
	out := make([]models.ImageHistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}
