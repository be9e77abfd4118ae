package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/segmentcore/segmentcore/internal/config"
	"github.com/segmentcore/segmentcore/internal/segment"
)

func newSearchCmd() *cobra.Command {
	var vectorCSV string
	var ef int
	var limit int

	cmd := &cobra.Command{
		Use:   "search <dir>",
		Short: "Run an approximate nearest-neighbor search against a segment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, args[0], vectorCSV, ef, limit)
		},
	}

	cmd.Flags().StringVar(&vectorCSV, "vector", "", "comma-separated query vector components (required)")
	cmd.Flags().IntVar(&ef, "ef", 64, "graph search breadth")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum results to print")
	_ = cmd.MarkFlagRequired("vector")

	return cmd
}

func parseVector(csv string) ([]float32, error) {
	parts := strings.Split(csv, ",")
	v := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		v = append(v, float32(f))
	}
	return v, nil
}

func runSearch(cmd *cobra.Command, dir, vectorCSV string, ef, limit int) error {
	q, err := parseVector(vectorCSV)
	if err != nil {
		return err
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}

	seg, err := segment.Open(dir, cfg)
	if err != nil {
		return err
	}
	defer seg.Close()

	offsets, err := seg.SearchANN(q, ef)
	if err != nil {
		return err
	}
	if len(offsets) > limit {
		offsets = offsets[:limit]
	}

	out := cmd.OutOrStdout()
	for rank, offset := range offsets {
		if _, err := fmt.Fprintf(out, "%d\t%d\n", rank+1, offset); err != nil {
			return err
		}
	}
	return nil
}
