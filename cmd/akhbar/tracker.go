package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"reflect"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/kiranshivaraju/akhbar/internal/progress"
)

const (
	frameInterval = 120 * time.Millisecond
	clearScreen   = "\033[H\033[2J"
)

// tracker redraws the progress view for one store/poller pair until done
// reports true. On a terminal every frame is redrawn so the spinner moves;
// otherwise a frame is printed only when the view changes.
type tracker struct {
	store  *progress.Store
	poller *progress.Poller
	term   *progress.Terminal
	out    io.Writer
	live   bool
	images *imageDumper
}

func newTracker(store *progress.Store, poller *progress.Poller, out io.Writer) *tracker {
	live := false
	if f, ok := out.(*os.File); ok {
		live = isatty.IsTerminal(f.Fd())
	}
	return &tracker{
		store:  store,
		poller: poller,
		term:   progress.NewTerminal(progress.DefaultStyles()),
		out:    out,
		live:   live,
	}
}

func (t *tracker) run(ctx context.Context, done func(progress.PollerState) bool) error {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	var last *progress.View
	for {
		local := t.poller.State()
		view := progress.Render(t.store.State(), local)
		if err := t.draw(view, last); err != nil {
			return err
		}
		last = &view

		if t.images != nil {
			if err := t.images.write(local.History); err != nil {
				return err
			}
		}
		if done(local) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// finish prints the settled view once more after the store was updated.
func (t *tracker) finish() error {
	return t.draw(progress.Render(t.store.State(), t.poller.State()), nil)
}

func (t *tracker) draw(view progress.View, last *progress.View) error {
	if !t.live && last != nil && reflect.DeepEqual(view, *last) {
		return nil
	}
	frame := t.term.Render(view)
	if t.live {
		frame = clearScreen + frame
	}
	_, err := fmt.Fprintln(t.out, frame)
	return err
}
