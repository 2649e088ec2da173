package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "timetablectl",
		Short: "Maintenance tool for the timetable bot",
		Long: `timetablectl manages the bot's database schema and previews how a
timetable document is projected for a class.`,
		SilenceUsage: true,
	}

	root.AddCommand(newMigrateCmd())
	root.AddCommand(newPreviewCmd())
	return root
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
