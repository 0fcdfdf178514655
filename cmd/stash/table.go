package main

import (
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/ops"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
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

func captureTable(items []ops.CaptureSummary) string {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		note := it.ErrorType
		if it.Quarantined {
			note = "quarantined: " + it.QuarantineReason
		}
		rows = append(rows, []string{
			it.ID,
			string(it.Source),
			string(it.Status),
			strconv.Itoa(it.AttemptCount),
			it.CreatedAt,
			note,
		})
	}
	return renderTable(
		[]string{"ID", "Source", "Status", "Attempts", "Created", "Note"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

func errorTable(items []db.ErrorLogEntry) string {
	rows := make([][]string, 0, len(items))
	for _, e := range items {
		captureID := "-"
		if e.CaptureID != nil {
			captureID = *e.CaptureID
		}
		dlq := ""
		if e.DLQ {
			dlq = "yes"
		}
		rows = append(rows, []string{
			capture.FormatTimestamp(e.CreatedAt),
			string(e.Operation),
			captureID,
			e.ErrorType,
			strconv.Itoa(e.AttemptCount),
			dlq,
			e.Message,
		})
	}
	return renderTable(
		[]string{"Time", "Operation", "Capture", "Type", "Attempt", "DLQ", "Message"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}
