package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kiranshivaraju/akhbar/pkg/models"
)

// imageDumper writes each new history image to dir as
// <index>-step<N>.<ext>. History only grows, so entries already written are
// skipped by position.
type imageDumper struct {
	dir     string
	written int
}

func newImageDumper(dir string) (*imageDumper, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create images dir: %w", err)
	}
	return &imageDumper{dir: dir}, nil
}

func (d *imageDumper) write(history []models.ImageHistoryEntry) error {
	for ; d.written < len(history); d.written++ {
		entry := history[d.written]
		raw, err := entry.Image.Decode()
		if err != nil {
			return fmt.Errorf("decode step %d image: %w", entry.Step, err)
		}
		name := fmt.Sprintf("%02d-step%d.%s", d.written+1, entry.Step, extension(entry.Image.MIMEType()))
		if err := os.WriteFile(filepath.Join(d.dir, name), raw, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

func extension(mime string) string {
	_, sub, ok := strings.Cut(mime, "/")
	if !ok || sub == "" {
		return "bin"
	}
	switch sub {
	case "jpeg":
		return "jpg"
	case "svg+xml":
		return "svg"
	}
	return sub
}
