package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/device"
	"github.com/xkilldash9x/droidpilot/internal/observability"
)

// newDevicesCmd creates the `devices` command, a quick connectivity check
// against the configured bridge.
func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "Shows the device currently reachable through the bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bridge := device.NewBridge(cfg.Device, observability.GetLogger())

			snap, err := bridge.ScreenData(cmd.Context())
			if err != nil {
				return fmt.Errorf("bridge at %s is not reachable: %w", cfg.Device.ScreenAPIURL, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "platform: %s\n", snap.Platform)
			fmt.Fprintf(cmd.OutOrStdout(), "screen:   %dx%d\n", snap.Width, snap.Height)
			if snap.FocusedApp != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "focused:  %s\n", snap.FocusedApp)
			}
			elements := 0
			snap.Walk(func(*schemas.UIElement) bool {
				elements++
				return true
			})
			fmt.Fprintf(cmd.OutOrStdout(), "elements: %d\n", elements)
			return nil
		},
	}
}
