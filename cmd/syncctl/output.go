package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/jedib0t/go-pretty/v6/table"
)

type printer struct {
	out  io.Writer
	json bool
}

func (p *printer) printJSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table prints rows, or data as JSON when --json is set
func (p *printer) table(data any, header table.Row, rows []table.Row, meta *dto.Meta) error {
	if p.json {
		return p.printJSON(data)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(p.out)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	if meta != nil {
		tw.AppendFooter(table.Row{fmt.Sprintf("page %d/%d", meta.Page, meta.TotalPages), fmt.Sprintf("%d total", meta.Total)})
	}
	tw.Render()
	return nil
}

// fields prints one record as a two column table
func (p *printer) fields(data any, rows []table.Row) error {
	return p.table(data, table.Row{"Field", "Value"}, rows, nil)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
