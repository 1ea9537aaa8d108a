package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/muradov/gpsmaster/internal/config"
	"github.com/muradov/gpsmaster/internal/db"
	"github.com/muradov/gpsmaster/internal/export"
	"github.com/muradov/gpsmaster/internal/report"
)

func newReportCmd() *cobra.Command {
	var configPath string
	var preset string
	var from string
	var to string
	var masterID string
	var xlsxPath string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print an order summary for a period",
		Long: `Prints the same period summary the bot offers in chat. Use --preset for a
named window or --from/--to (dd.mm.yyyy) for an explicit range; --xlsx also
writes the per-order table as a spreadsheet.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.OutOrStdout(), configPath, preset, from, to, masterID, xlsxPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	cmd.Flags().StringVar(&preset, "preset", "today", "window preset: today, yesterday, month, last_month, last7")
	cmd.Flags().StringVar(&from, "from", "", "range start, dd.mm.yyyy")
	cmd.Flags().StringVar(&to, "to", "", "range end, dd.mm.yyyy")
	cmd.Flags().StringVar(&masterID, "master", "", "scope to one master id")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "also write the order table to this .xlsx file")
	return cmd
}

func runReport(out io.Writer, configPath, preset, from, to, masterID, xlsxPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	loc := cfg.Location()

	var w report.Window
	if from != "" || to != "" {
		fromDay, err := time.ParseInLocation("02.01.2006", from, loc)
		if err != nil {
			return fmt.Errorf("report: parse --from: %w", err)
		}
		toDay, err := time.ParseInLocation("02.01.2006", to, loc)
		if err != nil {
			return fmt.Errorf("report: parse --to: %w", err)
		}
		w = report.Range(fromDay, toDay)
	} else {
		w, err = report.Preset(preset, time.Now(), loc)
		if err != nil {
			return err
		}
	}

	s, err := report.Build(gormDB, w, masterID)
	if err != nil {
		return err
	}
	fmt.Fprint(out, s.Text())

	if xlsxPath != "" {
		header, rows := s.Table()
		data, err := export.Workbook("Orders", header, rows)
		if err != nil {
			return err
		}
		if err := os.WriteFile(xlsxPath, data, 0644); err != nil {
			return fmt.Errorf("report: write %s: %w", xlsxPath, err)
		}
		fmt.Fprintf(out, "\nWrote %s\n", xlsxPath)
	}
	return nil
}
