package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codexola/codexola/internal/client"
)

func init() {
	workspaceCmd.AddCommand(workspaceListCmd)
	workspaceCmd.AddCommand(workspaceAddCmd)
	workspaceCmd.AddCommand(workspaceConnectCmd)
	rootCmd.AddCommand(workspaceCmd)
}

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Manage workspaces on a running server",
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered workspaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.DefaultClient()
		if err != nil {
			return err
		}
		infos, err := c.ListWorkspaces(cmd.Context())
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No workspaces registered.")
			return nil
		}
		for _, info := range infos {
			state := "disconnected"
			if info.Connected {
				state = "connected"
			}
			fmt.Printf("%s  %-20s %-12s %s\n", info.ID, info.Name, state, info.Path)
		}
		return nil
	},
}

var workspaceAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Register a directory as a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.DefaultClient()
		if err != nil {
			return err
		}
		entry, err := c.AddWorkspace(cmd.Context(), args[0], "")
		if err != nil {
			return err
		}
		fmt.Printf("Added workspace %s (%s)\n", entry.Name, entry.ID)
		return nil
	},
}

var workspaceConnectCmd = &cobra.Command{
	Use:   "connect <id>",
	Short: "Spawn the agent server for a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.DefaultClient()
		if err != nil {
			return err
		}
		info, err := c.ConnectWorkspace(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Connected workspace %s\n", info.Name)
		return nil
	},
}
