package progress

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/akhbar/pkg/models"
)

func runningState(jobID string) models.JobProgressState {
	st := models.InitialState()
	st.InProgress = true
	st.ShowProgress = true
	st.Status = StatusRunning
	st.Step = models.StepBoundingBoxes
	st.JobID = jobID
	return st
}

func TestRender_ZeroValuesDoNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		Render(models.JobProgressState{}, PollerState{})
		Render(models.JobProgressState{ShowProgress: true}, PollerState{})
		Render(models.JobProgressState{ShowProgress: true}, PollerState{CurrentStep: 3, Completed: true})
		Render(models.JobProgressState{ShowProgress: true}, PollerState{Error: &models.ErrorSnapshot{}})
	})
}

func TestRender_HiddenAfterDismiss(t *testing.T) {
	v := Render(models.InitialState(), PollerState{Phase: PhaseStopped})
	assert.False(t, v.Visible)
	assert.Nil(t, v.Steps)
}

func TestRender_WaitingForJobID(t *testing.T) {
	v := Render(runningState(""), PollerState{Phase: PhaseIdle})

	assert.True(t, v.Visible)
	assert.True(t, v.Dismissable)
	assert.Equal(t, waitingMessage, v.Waiting)
	assert.Empty(t, v.Warning)
	assert.Nil(t, v.Current)
	require.NotNil(t, v.BoundingBoxes)
	assert.Equal(t, boundingBoxesEmpty, v.BoundingBoxes.Placeholder)
}

func TestRender_NoJobIDAfterCompletion(t *testing.T) {
	st := runningState("")
	st.InProgress = false
	st.Error = "upload rejected"

	v := Render(st, PollerState{})

	assert.Equal(t, noJobIDWarning, v.Warning)
	assert.Empty(t, v.Waiting)
	assert.Equal(t, "upload rejected", v.Error)
}

func TestRender_StepIndicator(t *testing.T) {
	v := Render(runningState("j"), PollerState{Phase: PhasePolling, JobID: "j", CurrentStep: models.StepRegions})

	require.Len(t, v.Steps, 4)
	assert.Equal(t, StepDone, v.Steps[0].Status)
	assert.Equal(t, StepDone, v.Steps[1].Status)
	assert.Equal(t, StepActive, v.Steps[2].Status)
	assert.Equal(t, StepPending, v.Steps[3].Status)
	assert.Equal(t, "Article regions", v.Steps[2].Label)
}

func TestRender_StepIndicatorCompleted(t *testing.T) {
	v := Render(runningState("j"), PollerState{CurrentStep: models.StepTextExtract, Completed: true})
	for _, s := range v.Steps {
		assert.Equal(t, StepDone, s.Status)
	}
}

func TestRender_DescriptionFallback(t *testing.T) {
	v := Render(runningState("j"), PollerState{CurrentStep: models.StepCropRegions})
	assert.Equal(t, "Processing OCR step 2", v.Description)

	v = Render(runningState("j"), PollerState{CurrentStep: models.StepCropRegions, Description: "Cropping 12 regions"})
	assert.Equal(t, "Cropping 12 regions", v.Description)
}

func TestRender_NoStepYet(t *testing.T) {
	v := Render(runningState("j"), PollerState{Phase: PhasePolling, JobID: "j"})

	assert.Empty(t, v.Description)
	assert.Nil(t, v.Current)
	assert.False(t, v.Loading)
	for _, s := range v.Steps {
		assert.Equal(t, StepPending, s.Status)
	}
}

func TestRender_CurrentImage(t *testing.T) {
	img := models.NormalizeImage("QUFB")
	v := Render(runningState("j"), PollerState{
		CurrentStep: models.StepCropRegions,
		Images:      map[models.Step]models.ImageRef{models.StepCropRegions: img},
	})

	require.NotNil(t, v.Current)
	assert.Equal(t, img, v.Current.Image)
	assert.False(t, v.Current.Spinner)
	assert.Equal(t, "Current Progress: Cropping article regions", v.Current.Title)
}

func TestRender_SpinnerWithoutImage(t *testing.T) {
	v := Render(runningState("j"), PollerState{CurrentStep: models.StepRegions})

	require.NotNil(t, v.Current)
	assert.True(t, v.Current.Spinner)
	assert.True(t, v.Current.Image.IsZero())
	assert.Equal(t, spinnerCaption, v.Current.Placeholder)
	assert.True(t, v.Loading)
}

func TestRender_Complete(t *testing.T) {
	v := Render(runningState("j"), PollerState{
		Phase:       PhaseCompleted,
		CurrentStep: models.StepTextExtract,
		Completed:   true,
	})

	require.NotNil(t, v.Current)
	assert.True(t, v.Current.Complete)
	assert.Equal(t, completeTitle, v.Current.Title)
	assert.False(t, v.Loading, "completed with zero images is not loading")
}

func TestRender_BoundingBoxesFallsBackToStore(t *testing.T) {
	stored := models.NormalizeImage("U1RPUkU=")
	st := runningState("j")
	st.ProgressImages[models.StepBoundingBoxes] = stored

	v := Render(st, PollerState{CurrentStep: models.StepCropRegions})
	assert.Equal(t, stored, v.BoundingBoxes.Image)

	local := models.NormalizeImage("TE9DQUw=")
	v = Render(st, PollerState{
		CurrentStep: models.StepCropRegions,
		Images:      map[models.Step]models.ImageRef{models.StepBoundingBoxes: local},
	})
	assert.Equal(t, local, v.BoundingBoxes.Image)
	assert.Empty(t, v.BoundingBoxes.Placeholder)
}

func TestRender_ErrorAlertKeepsProgress(t *testing.T) {
	history := []models.ImageHistoryEntry{{Step: 1, Image: models.NormalizeImage("QUFB")}}
	v := Render(runningState("job-7"), PollerState{
		Phase:       PhasePolling,
		JobID:       "job-7",
		CurrentStep: models.StepBoundingBoxes,
		History:     history,
		Error:       &models.ErrorSnapshot{Message: "backend unreachable", At: time.Now()},
	})

	require.NotNil(t, v.Alert)
	assert.Equal(t, errorTitle, v.Alert.Title)
	assert.Equal(t, "backend unreachable", v.Alert.Message)
	assert.Equal(t, "job-7", v.Alert.JobID)
	assert.Len(t, v.History, 1)
	assert.Len(t, v.Steps, 4)
}

func TestRender_AlertDefaults(t *testing.T) {
	st := runningState("")
	st.InProgress = false
	v := Render(st, PollerState{Error: &models.ErrorSnapshot{Fatal: true}})

	require.NotNil(t, v.Alert)
	assert.Equal(t, fatalErrorTitle, v.Alert.Title)
	assert.Equal(t, defaultFetchError, v.Alert.Message)
	assert.Equal(t, jobIDUnavailable, v.Alert.JobID)
}

func TestTerminal_Render(t *testing.T) {
	term := NewTerminal(DefaultStyles())
	st := runningState("job-9")
	st.Label = "2026-10-19"
	st.Success = "saved"

	out := term.Render(Render(st, PollerState{
		Phase:       PhasePolling,
		JobID:       "job-9",
		CurrentStep: models.StepCropRegions,
		Images:      map[models.Step]models.ImageRef{models.StepBoundingBoxes: models.NormalizeImage("QUFB")},
		History:     []models.ImageHistoryEntry{{Step: 1}},
		Error:       &models.ErrorSnapshot{Message: "timed out"},
	}))

	for _, want := range []string{
		"OCR Progress",
		"job-9",
		"Detecting bounding boxes",
		"OCR text extraction",
		"Processing images...",
		"image/jpeg preview",
		"timed out",
		"1 preview image(s) received",
		"saved",
	} {
		assert.True(t, strings.Contains(out, want), "output missing %q:\n%s", want, out)
	}
}

func TestTerminal_HiddenViewIsEmpty(t *testing.T) {
	assert.Empty(t, NewTerminal(DefaultStyles()).Render(View{}))
}

func TestTerminal_SpinnerAdvances(t *testing.T) {
	term := NewTerminal(DefaultStyles())
	first := term.spin()
	second := term.spin()
	assert.NotEqual(t, first, second)
}
