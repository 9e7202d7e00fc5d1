package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-qdl/pkg/app"
)

var partitionsCmd = &cobra.Command{
	Use:   "partitions",
	Short: "List partition names across all LUNs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			count, names, err := s.dev.GetDevicePartitionsInfo(appCtx)
			if err != nil {
				return app.Classify("failed to list partitions", err)
			}
			return appCtx.Render(partitionsResult{Count: count, Partitions: names})
		})
	},
}

func init() {
	rootCmd.AddCommand(partitionsCmd)
}
