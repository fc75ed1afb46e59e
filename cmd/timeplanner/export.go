package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	exportUser uint
	exportFrom string
	exportTo   string
	exportOut  string
	exportDays int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a user's calendar as iCalendar",
	Long: `Export scheduled tasks in [from, to) as an .ics file. Recurring events
carry an RRULE so calendar apps keep repeating them.

Examples:
  timeplanner export --user 1 > week.ics
  timeplanner export --user 1 --from 2025-01-01 --to 2025-02-01 --out january.ics`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().UintVar(&exportUser, "user", 0, "user to export")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "first day, YYYY-MM-DD (default today)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "day after the last, YYYY-MM-DD")
	exportCmd.Flags().IntVar(&exportDays, "days", 7, "window length when --to is not set")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
	_ = exportCmd.MarkFlagRequired("user")
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	from, err := a.parseDay(exportFrom)
	if err != nil {
		return err
	}
	to := from.AddDate(0, 0, exportDays)
	if exportTo != "" {
		if to, err = a.parseDay(exportTo); err != nil {
			return err
		}
	}

	var w io.Writer = cmd.OutOrStdout()
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", exportOut, err)
		}
		defer f.Close()
		w = f
	}
	return a.occurrences.ExportICS(cmd.Context(), w, exportUser, from, to)
}
