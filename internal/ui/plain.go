package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// PlainRenderer outputs plain text progress (for CI/pipes).
type PlainRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	noColor bool
	stage   Stage
	errors  []ErrorEvent
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{
		out:     cfg.Output,
		noColor: cfg.NoColor,
	}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stage = event.Stage

	// Format: [STAGE] current/total - message or offset
	var msg string
	if event.Message != "" {
		msg = event.Message
	} else if event.CurrentOffset != "" {
		msg = event.CurrentOffset
	}

	if event.Total > 0 {
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d - %s\n", event.Stage.Icon(), event.Current, event.Total, msg)
	} else if msg != "" {
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}

	if event.File != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.File, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d points, %d field indices built in %s",
		stats.Points, stats.FieldIndices, stats.Duration.Round(100*millisecond))

	if stats.Errors > 0 || stats.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}

	_, _ = fmt.Fprintln(r.out)

	// Show detailed stage breakdown if available
	if stats.Stages.Scan > 0 || stats.Stages.Graph > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "Stage Breakdown:")
		_, _ = fmt.Fprintf(r.out, "  Scan:     %s (offsets enumerated)\n", stats.Stages.Scan.Round(100*millisecond))
		if stats.Stages.Quantize > 0 {
			_, _ = fmt.Fprintf(r.out, "  Quantize: %s\n", stats.Stages.Quantize.Round(100*millisecond))
		}
		_, _ = fmt.Fprintf(r.out, "  Field:    %s (%d field indices)\n", stats.Stages.FieldIndex.Round(100*millisecond), stats.FieldIndices)
		if stats.Stages.Graph > 0 && stats.Points > 0 {
			pointsPerSec := float64(stats.Points) / stats.Stages.Graph.Seconds()
			_, _ = fmt.Fprintf(r.out, "  Graph:    %s (%d points @ %.1f/sec)\n",
				stats.Stages.Graph.Round(100*millisecond), stats.Points, pointsPerSec)
		}
		_, _ = fmt.Fprintf(r.out, "  Flush:    %s (vectors, bitmap, manifest)\n", stats.Stages.Flush.Round(100*millisecond))
	}

	// Show quantization backend info if available
	if stats.Quantization.Method != "" && stats.Quantization.Method != "none" {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintf(r.out, "Quantization: %s (%d dims)\n",
			stats.Quantization.Method, stats.Quantization.Dim)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

const millisecond = 1000000 // nanoseconds
