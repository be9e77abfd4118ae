package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/segmentcore/segmentcore/internal/config"
)

func newInitCmd() *cobra.Command {
	var dim int
	var distance string
	var quantization string
	var force bool

	cmd := &cobra.Command{
		Use:   "init <dir>",
		Short: "Write a new segment.yaml schema into dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			path := filepath.Join(dir, "segment.yaml")
			if !force {
				if _, err := config.Load(dir); err == nil {
					return fmt.Errorf("%s already exists, pass --force to overwrite", path)
				}
			}

			cfg := config.NewConfig()
			cfg.VectorDim = dim
			cfg.Distance = distance
			cfg.Quantization.Kind = config.QuantizationKind(quantization)

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid schema: %w", err)
			}
			if err := cfg.WriteYAML(path); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}

			_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (dim=%d distance=%s quantization=%s)\n",
				path, dim, distance, quantization)
			return err
		},
	}

	cmd.Flags().IntVar(&dim, "dim", 0, "vector dimensionality (required)")
	cmd.Flags().StringVar(&distance, "distance", "cosine", "distance metric: dot, cosine, l1, l2")
	cmd.Flags().StringVar(&quantization, "quantization", string(config.QuantizationNone), "quantization kind: none, scalar, binary, product")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing segment.yaml")
	_ = cmd.MarkFlagRequired("dim")

	return cmd
}
