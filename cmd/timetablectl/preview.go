package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"timetable_bot/internal/bot"
	"timetable_bot/internal/fetcher"
	"timetable_bot/internal/model"
	"timetable_bot/internal/timetable"
)

var (
	colorDay   = color.New(color.FgCyan, color.Bold)
	colorMuted = color.New(color.FgWhite, color.Faint)
	colorError = color.New(color.FgRed)
)

func newPreviewCmd() *cobra.Command {
	var (
		link    string
		class   string
		format  string
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Print the timetable of a class as the bot would send it",
		Long: `Fetch a timetable document, project it for one class and print every
day the way it appears in the chat.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if noColor {
				color.NoColor = true
			}
			if class == "" || link == "" {
				return fmt.Errorf("--class and --link are required")
			}

			f := fetcher.New(&http.Client{Timeout: 30 * time.Second}, fetcher.Format(format), 0)
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			grid, err := f.Fetch(ctx, link)
			if err != nil {
				return fmt.Errorf("fetch document: %w", err)
			}
			proj, err := timetable.Project(grid, strings.ToUpper(class))
			if err != nil {
				colorError.Fprintln(cmd.ErrOrStderr(), bot.FormatParseError(err))
				return err
			}
			printProjection(cmd.OutOrStdout(), proj)
			return nil
		},
	}

	cmd.Flags().StringVar(&link, "link", envOrDefault("DEFAULT_LINK", ""), "timetable document link")
	cmd.Flags().StringVar(&class, "class", "", "class name, e.g. 10Б")
	cmd.Flags().StringVar(&format, "format", envOrDefault("DOCUMENT_FORMAT", string(fetcher.FormatCSV)), "document format: csv or xlsx")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable color output")
	return cmd
}

func printProjection(w io.Writer, proj model.Projection) {
	if len(proj.Days) == 0 {
		colorMuted.Fprintln(w, "no days found")
		return
	}
	for i, day := range proj.Days {
		if i > 0 {
			fmt.Fprintln(w)
		}
		header, body, _ := strings.Cut(timetable.FormatDay(day), "\n")
		colorDay.Fprintln(w, header)
		if body != "" {
			fmt.Fprintln(w, body)
		}
	}
}
