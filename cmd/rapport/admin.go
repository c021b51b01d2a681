package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/rapport/internal/app"
	"github.com/ent0n29/rapport/internal/config"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print memory health for the configured store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		built, err := buildOffline(cmd)
		if err != nil {
			return err
		}
		defer built.Close()
		return printJSON(map[string]any{
			"health":   built.Memories.Health(),
			"summary":  built.Memories.Summary(),
			"profiles": built.Profiles.Len(),
		})
	},
}

var cleanupDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Evict decayed emotional memories and save the result",
	RunE: func(cmd *cobra.Command, _ []string) error {
		built, err := buildOffline(cmd)
		if err != nil {
			return err
		}
		report := built.Monitor.Sweep(cmd.Context(), cleanupDays, "cli")
		if err := built.Cleanup(); err != nil {
			return err
		}
		return printJSON(report)
	},
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Inspect and delete user profiles",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known profiles",
	RunE: func(cmd *cobra.Command, _ []string) error {
		built, err := buildOffline(cmd)
		if err != nil {
			return err
		}
		defer built.Close()
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tVOICE\tCONVERSATIONS\tLAST ACTIVE")
		for _, p := range built.Profiles.List() {
			fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\n", p.ID, p.DisplayName, p.HasVoice(), p.ConversationCount, p.LastActiveAt.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

var profilesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a profile and every memory it owns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		built, err := buildOffline(cmd)
		if err != nil {
			return err
		}
		removed, err := built.Pipeline.DeleteUser(args[0])
		if err != nil {
			_ = built.Cleanup()
			return err
		}
		if err := built.Cleanup(); err != nil {
			return err
		}
		fmt.Printf("deleted %s and %d memories\n", args[0], removed)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "age threshold in days (0 uses the configured and health-recommended threshold)")
	profilesCmd.AddCommand(profilesListCmd)
	profilesCmd.AddCommand(profilesDeleteCmd)
}

// buildOffline loads the configured store without starting any loop.
func buildOffline(cmd *cobra.Command) (*app.BuildResult, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.Build(cmd.Context(), cfg)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
