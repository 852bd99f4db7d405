package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/schaermu/vpkpipe/internal/compress"
	"github.com/schaermu/vpkpipe/internal/restore"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment, rounded bool) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	if rounded {
		tw.SetStyle(table.StyleRounded)
	} else {
		tw.SetStyle(table.StyleDefault)
	}

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func compressRows(report *compress.Report) [][]string {
	rows := make([][]string, 0, len(report.Results))
	for _, res := range report.Results {
		size := "-"
		if res.Size > 0 {
			size = humanize.IBytes(uint64(res.Size))
		}
		rows = append(rows, []string{res.Container, string(res.Outcome), string(res.Reason), size})
	}
	return rows
}

func restoreRows(report *restore.Report) [][]string {
	rows := make([][]string, 0, len(report.Results))
	for _, res := range report.Results {
		source := "single"
		switch {
		case res.FellBack:
			source = "single (fallback)"
		case res.Archive.Split:
			source = "split"
		}
		rows = append(rows, []string{res.Archive.Base, res.Archive.Kind.String(), source, string(res.Status)})
	}
	return rows
}

func printCompressReport(w io.Writer, report *compress.Report, logger *slog.Logger) {
	if len(report.Results) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, renderTable(
		[]string{"Container", "Outcome", "Reason", "Archive Size"},
		compressRows(report),
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
		isTerminal(w),
	))
	for _, res := range report.Failed() {
		logger.Warn("container not compressed", "container", res.Container, "error", res.Err)
	}
}

func printRestoreReport(w io.Writer, report *restore.Report, logger *slog.Logger) {
	if report.Empty {
		return
	}
	_, _ = fmt.Fprintln(w, renderTable(
		[]string{"Archive", "Kind", "Source", "Status"},
		restoreRows(report),
		nil,
		isTerminal(w),
	))
	for _, res := range report.Results {
		if res.Status == restore.StatusFailed || res.Status == restore.StatusMissing {
			logger.Warn("container not restored",
				"container", filepath.Base(res.Container),
				"status", res.Status,
				"error", res.Err)
		}
	}
}
