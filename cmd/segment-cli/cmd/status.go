package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/segmentcore/segmentcore/internal/config"
	"github.com/segmentcore/segmentcore/internal/ui"
)

// manifestSummary mirrors the JSON fields of internal/segment's manifest
// that status needs; that type is unexported, so its shape is read here
// directly off segment.json instead.
type manifestSummary struct {
	PointCount uint64 `json:"point_count"`
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status <dir>",
		Short: "Show segment health and storage sizes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runStatus(cmd *cobra.Command, dir string, jsonOutput bool) error {
	cfg, err := config.Load(dir)
	if err != nil {
		return fmt.Errorf("no segment schema found in %s: %w", dir, err)
	}

	info, err := collectStatus(dir, cfg)
	if err != nil {
		return fmt.Errorf("collect status: %w", err)
	}

	noColor := ui.DetectNoColor()
	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor)
	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

func collectStatus(dir string, cfg *config.Config) (ui.StatusInfo, error) {
	info := ui.StatusInfo{
		SegmentName:      filepath.Base(dir),
		FieldIndices:     len(cfg.Fields),
		QuantizationKind: string(cfg.Quantization.Kind),
	}

	manifestPath := filepath.Join(dir, "segment.json")
	if fi, err := os.Stat(manifestPath); err == nil {
		info.ManifestSize = fi.Size()
		info.LastFlushed = fi.ModTime()

		if data, err := os.ReadFile(manifestPath); err == nil {
			var m manifestSummary
			if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &m); err == nil {
				info.TotalPoints = int(m.PointCount)
			}
		}
	}

	fieldDirs := make(map[string]struct{}, len(cfg.Fields))
	for _, fs := range cfg.Fields {
		fieldDirs[sanitizeFieldName(fs.Name)] = struct{}{}
	}

	_ = filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		top := strings.SplitN(rel, string(filepath.Separator), 2)[0]

		switch {
		case rel == "segment.json":
			// already counted
		case top == ".segment.lock":
			// lock file, not part of reported storage
		case isFieldDir(top, fieldDirs):
			info.FieldSize += fi.Size()
		default:
			info.VectorSize += fi.Size()
		}
		return nil
	})
	info.TotalSize = info.ManifestSize + info.FieldSize + info.VectorSize

	if cfg.Quantization.Kind == config.QuantizationNone || cfg.Quantization.Kind == "" {
		info.QuantizationStatus = "n/a"
	} else if _, err := os.Stat(filepath.Join(dir, "quantized")); err == nil {
		info.QuantizationStatus = "ready"
	} else {
		info.QuantizationStatus = "building"
	}

	if info.VectorSize > 0 {
		info.GraphStatus = "ready"
	} else {
		info.GraphStatus = "n/a"
	}

	return info, nil
}

// sanitizeFieldName mirrors internal/payload's unexported sanitizePath,
// so field directory names here line up with what the registry wrote.
func sanitizeFieldName(name string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(name)
}

func isFieldDir(top string, fieldDirs map[string]struct{}) bool {
	_, ok := fieldDirs[top]
	return ok
}
