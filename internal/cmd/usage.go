package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codexola/codexola/internal/client"
	"github.com/codexola/codexola/internal/proto"
)

func init() {
	usageCmd.Flags().BoolP("refresh", "r", false, "Force a refresh before printing")
	rootCmd.AddCommand(usageCmd)
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show the 24 hour token usage window",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.DefaultClient()
		if err != nil {
			return err
		}

		refresh, _ := cmd.Flags().GetBool("refresh")
		var snap *proto.UsageSnapshot
		if refresh {
			snap, err = c.RefreshUsage(cmd.Context())
		} else {
			snap, err = c.GetUsage(cmd.Context())
		}
		if err != nil {
			return err
		}

		if snap.TotalTokens24h == nil {
			fmt.Println("No usage recorded in the last 24 hours.")
		} else {
			fmt.Printf("Tokens (24h): %d (source: %s)\n", *snap.TotalTokens24h, snap.Source)
		}
		if snap.UpdatedAtMS != nil {
			fmt.Printf("Updated:      %s\n", time.UnixMilli(*snap.UpdatedAtMS).Format(time.RFC3339))
		}
		if snap.RateLimits != nil {
			printWindow("Primary", snap.RateLimits.Primary)
			printWindow("Secondary", snap.RateLimits.Secondary)
		}
		return nil
	},
}

func printWindow(name string, w *proto.RateLimitWindow) {
	if w == nil {
		return
	}
	line := fmt.Sprintf("%-9s %d%% used", name+":", w.UsedPercent)
	if w.WindowDurationMins != nil {
		line += fmt.Sprintf(" of a %dm window", *w.WindowDurationMins)
	}
	if w.ResetsAt != nil {
		line += fmt.Sprintf(", resets %s", time.UnixMilli(*w.ResetsAt).Format(time.Kitchen))
	}
	fmt.Println(line)
}
