package main

import (
	"io"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/tripcache/tripcache/internal/coordinator"
)

type printer struct {
	Success func(format string, a ...interface{}) string
	Error   func(format string, a ...interface{}) string
	Warning func(format string, a ...interface{}) string
	Info    func(format string, a ...interface{}) string
}

func newPrinter() *printer {
	return &printer{
		Success: color.New(color.FgGreen).SprintfFunc(),
		Error:   color.New(color.FgRed).SprintfFunc(),
		Warning: color.New(color.FgYellow).SprintfFunc(),
		Info:    color.New(color.FgBlue).SprintfFunc(),
	}
}

func (p *printer) status(status coordinator.PackStatus) string {
	switch status {
	case coordinator.StatusDownloaded:
		return p.Success("✓ %s", status)
	case coordinator.StatusDownloading, coordinator.StatusDeleting:
		return p.Warning("… %s", status)
	default:
		return p.Info("%s", status)
	}
}

func createTable(out io.Writer, headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(out)
	table.Header(headers)
	return table
}
