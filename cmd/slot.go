package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-qdl/pkg/app"
)

var slotCmd = &cobra.Command{
	Use:   "slot",
	Short: "Show the active A/B slot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			slot, err := s.dev.GetActiveSlot(appCtx)
			if err != nil {
				return app.Classify("failed to read active slot", err)
			}
			return appCtx.Render(slotResult{Slot: slot})
		})
	},
}

var slotSetCmd = &cobra.Command{
	Use:       "set <a|b>",
	Short:     "Make a slot active on every LUN and select its boot LUN",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"a", "b"},
	RunE: func(cmd *cobra.Command, args []string) error {
		slot := args[0]
		return withSession(func(s *session) error {
			ok, err := s.dev.SetActiveSlot(appCtx, slot)
			if err != nil {
				return app.Classify(fmt.Sprintf("failed to set slot %s", slot), err)
			}
			if !ok {
				return app.NewError(app.ErrCodeRefused, "device refused GPT write", nil)
			}
			return appCtx.Render(statusResult{Operation: "slot set", Target: slot, OK: true})
		})
	},
}

func init() {
	slotCmd.AddCommand(slotSetCmd)
	rootCmd.AddCommand(slotCmd)
}
