package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"

	"greencheck-workspace/internal/analysis"
	"greencheck-workspace/internal/apperr"
	"greencheck-workspace/internal/usage"
)

var (
	titleColor = color.New(color.FgCyan, color.Bold)
	infoColor  = color.New(color.FgCyan)
	errorColor = color.New(color.FgRed)
	dimColor   = color.New(color.Faint)
)

func levelColor(l analysis.Level) *color.Color {
	switch l {
	case analysis.LevelHigh:
		return color.New(color.FgRed, color.Bold)
	case analysis.LevelMedium:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgGreen, color.Bold)
	}
}

func printResult(w io.Writer, name string, res *analysis.Result, banner usage.Banner) {
	titleColor.Fprintf(w, "\n%s\n", name)
	if res == nil {
		dimColor.Fprintln(w, "  no analysis")
		return
	}
	label := res.LevelLabel
	if label == "" {
		label = string(res.Level)
	}
	levelColor(res.Level).Fprintf(w, "  Score: %d/100 (%s)\n", res.Score, label)

	if len(res.Reasons) > 0 {
		fmt.Fprintln(w, "  Reasons:")
		for _, r := range res.Reasons {
			fmt.Fprintf(w, "    - %s\n", r)
		}
	}
	if len(res.Recommendations) > 0 {
		fmt.Fprintln(w, "  Recommendations:")
		for _, r := range res.Recommendations {
			fmt.Fprintf(w, "    - [%s] %s\n", r.Severity, r.Message)
		}
	}
	if res.Rationale != "" {
		dimColor.Fprintf(w, "  %s\n", res.Rationale)
	}
	if banner.Visible {
		dimColor.Fprintf(w, "  %s\n", banner.Text)
	}
}

func printError(w io.Writer, name string, err error) {
	errorColor.Fprintf(w, "%s: %s\n", name, errorMessage(err))
}

func printInfo(w io.Writer, format string, args ...any) {
	infoColor.Fprintf(w, format+"\n", args...)
}

func errorMessage(err error) string {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}
