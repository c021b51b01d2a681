package main

import (
	"log"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rapport",
	Short: "Speaker identity resolution and contextual memory service",
	Long: "rapport works out who is speaking from weak signals (voice, writing style, context, " +
		"self-identification, turn continuity) and keeps a decaying, context-bound memory of what they said.",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(profilesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("rapport: %v", err)
	}
}
