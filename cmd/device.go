package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-qdl/pkg/app"
)

var storageInfoCmd = &cobra.Command{
	Use:   "storage-info",
	Short: "Show the storage description reported by the device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			info, err := s.dev.GetStorageInfo(appCtx)
			if err != nil {
				return app.Classify("failed to read storage info", err)
			}
			return appCtx.Render(storageResult(info))
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reboot the device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			ok, err := s.dev.Reset(appCtx)
			if err != nil {
				return app.Classify("failed to reset", err)
			}
			if !ok {
				return app.NewError(app.ErrCodeRefused, "device refused reset", nil)
			}
			return appCtx.Render(statusResult{Operation: "reset", Target: "device", OK: true})
		})
	},
}

func init() {
	rootCmd.AddCommand(storageInfoCmd, resetCmd)
}
