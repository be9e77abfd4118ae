package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/segmentcore/segmentcore/internal/config"
	"github.com/segmentcore/segmentcore/internal/hwcounter"
	"github.com/segmentcore/segmentcore/internal/segment"
	"github.com/segmentcore/segmentcore/internal/ui"
)

// record is one line of the build input: a point offset, its vector,
// and the payload values to feed into field indices.
type record struct {
	Offset  uint32         `json:"offset"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func newBuildCmd() *cobra.Command {
	var input string
	var forcePlain bool
	var noColor bool

	cmd := &cobra.Command{
		Use:   "build <dir>",
		Short: "Build a segment from a JSONL record stream",
		Long: `Reads newline-delimited JSON records ({"offset":N,"vector":[...],
"payload":{...}}) from --input (or stdin), inserts each vector, builds
every configured field index, quantizes if configured, and flushes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runBuild(ctx, cmd, args[0], input, forcePlain, noColor)
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "path to the JSONL record file (default: stdin)")
	cmd.Flags().BoolVar(&forcePlain, "no-tui", false, "force plain text progress output")
	cmd.Flags().BoolVar(&noColor, "no-color", ui.DetectNoColor(), "disable colored output")

	return cmd
}

func runBuild(ctx context.Context, cmd *cobra.Command, dir, input string, forcePlain, noColor bool) error {
	cfg, err := config.Load(dir)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}

	in := cmd.InOrStdin()
	if input != "" {
		f, err := os.Open(input)
		if err != nil {
			return fmt.Errorf("open %s: %w", input, err)
		}
		defer f.Close()
		in = f
	}

	uiCfg := ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(forcePlain),
		ui.WithNoColor(noColor),
		ui.WithSegmentDir(dir),
	)
	renderer := ui.NewRenderer(uiCfg)
	if err := renderer.Start(ctx); err != nil {
		return fmt.Errorf("start renderer: %w", err)
	}
	defer renderer.Stop()

	start := time.Now()
	seg, err := segment.Open(dir, cfg)
	if err != nil {
		return err
	}
	defer seg.Close()

	cell := hwcounter.NewCell()
	fieldValues := make(map[string]map[uint32]any, len(cfg.Fields))
	for _, fs := range cfg.Fields {
		fieldValues[fs.Name] = make(map[uint32]any)
	}

	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScan, Message: "reading records"})

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	decodeJSON := jsoniter.ConfigCompatibleWithStandardLibrary

	var count int
	errCount := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := decodeJSON.Unmarshal(line, &rec); err != nil {
			renderer.AddError(ui.ErrorEvent{File: fmt.Sprintf("line %d", count+1), Err: err})
			errCount++
			continue
		}

		if err := seg.InsertVector(rec.Offset, rec.Vector, cell); err != nil {
			renderer.AddError(ui.ErrorEvent{File: fmt.Sprintf("offset %d", rec.Offset), Err: err})
			errCount++
			continue
		}
		for name, values := range fieldValues {
			if v, ok := rec.Payload[name]; ok {
				values[rec.Offset] = v
			}
		}

		count++
		renderer.UpdateProgress(ui.ProgressEvent{
			Stage:         ui.StageGraph,
			Current:       count,
			CurrentOffset: fmt.Sprintf("%d", rec.Offset),
		})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	seg.Charge(cell)

	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageFieldIndex, Total: len(cfg.Fields)})
	for i, fs := range cfg.Fields {
		if err := seg.SetIndexed(fs.Name, fs, fieldValues[fs.Name]); err != nil {
			return err
		}
		renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageFieldIndex, Current: i + 1, Total: len(cfg.Fields), Message: fs.Name})
	}

	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageQuantize})
	if err := seg.Quantize(func() bool {
		select {
		case <-ctx.Done():
			return true
		default:
			return false
		}
	}); err != nil {
		return err
	}

	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageFlush})
	if err := seg.Flush(); err != nil {
		return err
	}

	renderer.Complete(ui.CompletionStats{
		Points:       count,
		FieldIndices: len(cfg.Fields),
		Duration:     time.Since(start),
		Errors:       errCount,
		Quantization: ui.QuantizationInfo{Method: string(cfg.Quantization.Kind), Dim: cfg.VectorDim},
	})
	return nil
}
