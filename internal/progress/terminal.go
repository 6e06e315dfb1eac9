package progress

import (
	"fmt"
	"strings"

	bubblesprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"

	"github.com/kiranshivaraju/akhbar/pkg/models"
)

type Styles struct {
	Title   lipgloss.Style
	Done    lipgloss.Style
	Active  lipgloss.Style
	Pending lipgloss.Style
	Alert   lipgloss.Style
	Warning lipgloss.Style
	Success lipgloss.Style
	Muted   lipgloss.Style
	Panel   lipgloss.Style
	Spinner lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")),
		Done:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Active:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		Pending: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		Alert:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		Panel:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		Spinner: lipgloss.NewStyle().Foreground(lipgloss.Color("205")),
	}
}

// Terminal draws a View as text. Each Render advances the spinner one frame.
type Terminal struct {
	styles  Styles
	spinner spinner.Spinner
	frame   int
	bar     bubblesprogress.Model
}

func NewTerminal(styles Styles) *Terminal {
	return &Terminal{
		styles:  styles,
		spinner: spinner.MiniDot,
		bar: bubblesprogress.New(
			bubblesprogress.WithDefaultGradient(),
			bubblesprogress.WithWidth(40),
		),
	}
}

func (t *Terminal) Render(v View) string {
	if !v.Visible {
		return ""
	}
	s := t.styles
	var b strings.Builder

	title := v.Title
	if v.Label != "" {
		title += " · " + v.Label
	}
	b.WriteString(s.Title.Render(title) + "\n")
	if v.JobID != "" {
		b.WriteString(s.Muted.Render("job "+v.JobID) + "\n")
	}
	if v.Status != "" {
		b.WriteString(v.Status + "\n")
	}

	if v.Waiting != "" {
		b.WriteString(t.spin() + " " + v.Waiting + "\n")
	}
	if v.Warning != "" {
		b.WriteString(s.Warning.Render(v.Warning) + "\n")
	}
	if v.Alert != nil {
		b.WriteString(s.Alert.Render(v.Alert.Title) + "\n")
		b.WriteString(v.Alert.Message + "\n")
		b.WriteString(s.Muted.Render("Job ID: "+v.Alert.JobID) + "\n")
	}

	b.WriteString("\n")
	done := 0
	for _, st := range v.Steps {
		var line string
		switch st.Status {
		case StepDone:
			done++
			line = s.Done.Render("✓ " + st.Label)
		case StepActive:
			line = s.Active.Render("▸ " + st.Label)
		default:
			line = s.Pending.Render("· " + st.Label)
		}
		b.WriteString(line + "\n")
	}
	if len(v.Steps) > 0 {
		b.WriteString(t.bar.ViewAs(float64(done)/float64(len(v.Steps))) + "\n")
	}

	if v.Current != nil {
		b.WriteString(s.Panel.Render(t.panel(v.Current)) + "\n")
	}
	if v.BoundingBoxes != nil {
		b.WriteString(s.Panel.Render(t.panel(v.BoundingBoxes)) + "\n")
	}

	if n := len(v.History); n > 0 {
		b.WriteString(s.Muted.Render(fmt.Sprintf("%d preview image(s) received", n)) + "\n")
	} else if v.Loading {
		b.WriteString(t.spin() + "\n")
	}

	if v.Success != "" {
		b.WriteString(s.Success.Render(v.Success) + "\n")
	}
	if v.Error != "" {
		b.WriteString(s.Alert.Render(v.Error) + "\n")
	}
	return b.String()
}

func (t *Terminal) panel(p *Panel) string {
	lines := []string{t.styles.Title.Render(p.Title)}
	switch {
	case p.Complete:
		lines = append(lines, t.styles.Success.Render(p.Caption))
		return strings.Join(lines, "\n")
	case !p.Image.IsZero():
		lines = append(lines, describeImage(p.Image))
	case p.Spinner:
		lines = append(lines, t.spin()+" "+p.Placeholder)
	case p.Placeholder != "":
		lines = append(lines, t.styles.Muted.Render(p.Placeholder))
	}
	if p.Caption != "" {
		lines = append(lines, t.styles.Muted.Render(p.Caption))
	}
	return strings.Join(lines, "\n")
}

func (t *Terminal) spin() string {
	frames := t.spinner.Frames
	f := frames[t.frame%len(frames)]
	t.frame++
	return t.styles.Spinner.Render(f)
}

func describeImage(img models.ImageRef) string {
	raw, err := img.Decode()
	if err != nil {
		return "[preview unreadable]"
	}
	return fmt.Sprintf("[%s preview, %.1f KB]", img.MIMEType(), float64(len(raw))/1024)
}
