package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZefanW/verl-prime/internal/core/batch"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and print the resolved batch layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			plan, err := batch.Resolve(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "configuration valid")
			fmt.Fprintf(out, "  estimator:         %s\n", cfg.Algorithm.AdvEstimator)
			fmt.Fprintf(out, "  reward model:      %s (update=%s)\n",
				cfg.RewardModel.RMType, cfg.RewardModel.PrimeModel.Update)
			fmt.Fprintf(out, "  world size:        %d (%d nodes x %d gpus)\n",
				plan.WorldSize, cfg.Trainer.NNodes, cfg.Trainer.NGPUsPerNode)
			fmt.Fprintf(out, "  data parallel:     %d\n", plan.DPSize)
			fmt.Fprintf(out, "  tensor parallel:   %d\n", plan.TPSize)
			fmt.Fprintf(out, "  sequence parallel: %d\n", plan.SPSize)
			fmt.Fprintf(out, "  mini batch:        %d\n", plan.MiniBatchSize)
			fmt.Fprintf(out, "  micro batch:       %d\n", plan.MicroBatchSize)
			fmt.Fprintf(out, "  grad accum steps:  %d\n", plan.GradAccumSteps)
			return nil
		},
	}
}
