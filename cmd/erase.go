package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-qdl/pkg/app"
)

var erasePreserve []string

var eraseCmd = &cobra.Command{
	Use:   "erase <partition>",
	Short: "Erase a partition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		partition := args[0]
		return withSession(func(s *session) error {
			ok, err := s.dev.Erase(appCtx, partition)
			if err != nil {
				return app.Classify(fmt.Sprintf("failed to erase %s", partition), err)
			}
			if !ok {
				return app.NewError(app.ErrCodeRefused, fmt.Sprintf("device refused erase of %s", partition), nil)
			}
			return appCtx.Render(statusResult{Operation: "erase", Target: partition, OK: true})
		})
	},
}

var eraseLUNCmd = &cobra.Command{
	Use:   "erase-lun <lun>",
	Short: "Erase a LUN except for its preserved partitions",
	Long: `Erase the usable area of a LUN on one side of the first preserved
partition found, keeping the side that holds it. Nothing is erased when the
LUN has none of the preserved partitions.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lun, err := parseLUNArg(args[0])
		if err != nil {
			return err
		}
		preserve := cfg.PreservePartitions
		if cmd.Flags().Changed("preserve") {
			preserve = erasePreserve
		}
		return withSession(func(s *session) error {
			ok, err := s.dev.EraseLUN(appCtx, lun, preserve)
			if err != nil {
				return app.Classify(fmt.Sprintf("failed to erase LUN %d", lun), err)
			}
			result := statusResult{Operation: "erase-lun", Target: fmt.Sprintf("LUN %d", lun), OK: ok}
			if !ok {
				result.Detail = "no preserved partition found or erase refused"
			}
			return appCtx.Render(result)
		})
	},
}

func init() {
	eraseLUNCmd.Flags().StringSliceVar(&erasePreserve, "preserve", nil, "partitions to keep (default from preserve_partitions)")
	rootCmd.AddCommand(eraseCmd, eraseLUNCmd)
}
