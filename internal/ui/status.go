package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
)

// StatusInfo contains segment health information.
type StatusInfo struct {
	// Segment stats
	SegmentName  string    `json:"segment_name"`
	TotalPoints  int       `json:"total_points"`
	FieldIndices int       `json:"field_indices"`
	LastFlushed  time.Time `json:"last_flushed"`

	// Storage sizes (in bytes)
	ManifestSize int64 `json:"manifest_size"`
	FieldSize    int64 `json:"field_size"`
	VectorSize   int64 `json:"vector_size"`
	TotalSize    int64 `json:"total_size"`

	// Component status
	QuantizationKind   string `json:"quantization_kind"`
	QuantizationStatus string `json:"quantization_status"` // "ready", "building", "error", "n/a"
	GraphStatus        string `json:"graph_status"`        // "running", "stopped", "n/a"
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out     io.Writer
	styles  Styles
	noColor bool
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:     out,
		styles:  GetStyles(noColor),
		noColor: noColor,
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	// Header
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Segment Status: "+info.SegmentName))

	// Segment stats
	_, _ = fmt.Fprintf(r.out, "  Points:        %d\n", info.TotalPoints)
	_, _ = fmt.Fprintf(r.out, "  Field indices: %d\n", info.FieldIndices)
	if !info.LastFlushed.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last flushed:  %s\n", formatTime(info.LastFlushed))
	}
	_, _ = fmt.Fprintln(r.out)

	// Storage sizes
	_, _ = fmt.Fprintln(r.out, "  Storage:")
	_, _ = fmt.Fprintf(r.out, "    Manifest: %s\n", FormatBytes(info.ManifestSize))
	_, _ = fmt.Fprintf(r.out, "    Fields:   %s\n", FormatBytes(info.FieldSize))
	_, _ = fmt.Fprintf(r.out, "    Vectors:  %s\n", FormatBytes(info.VectorSize))
	_, _ = fmt.Fprintf(r.out, "    Total:    %s\n", FormatBytes(info.TotalSize))
	_, _ = fmt.Fprintln(r.out)

	// Quantization status
	_, _ = fmt.Fprintln(r.out, "  Quantization:")
	_, _ = fmt.Fprintf(r.out, "    Kind:   %s\n", info.QuantizationKind)
	_, _ = fmt.Fprintf(r.out, "    Status: %s\n", r.renderStatus(info.QuantizationStatus))
	_, _ = fmt.Fprintln(r.out)

	// Graph status
	if info.GraphStatus != "" && info.GraphStatus != "n/a" {
		_, _ = fmt.Fprintf(r.out, "  Graph: %s\n", r.renderStatus(info.GraphStatus))
	}

	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// renderStatus formats a status string with color.
func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready", "running":
		return r.styles.Success.Render(status)
	case "building", "stopped":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	now := time.Now()
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// bytesSizes keeps the traditional KB/MB/GB suffixes (binary base, no "i")
// rather than humanize.Bytes' SI "kB" or humanize.IBytes' "KiB" sizes.
var bytesSizes = []string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	if bytes < 1024 {
		return fmt.Sprintf("%d B", bytes)
	}
	return humanize.CustomSize("%.1f %s", float64(bytes), 1024, bytesSizes)
}
