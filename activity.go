package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const activityLineLimit = 500

type activityLabel string

const (
	activityInfo  activityLabel = "INF"
	activityOK    activityLabel = "OK "
	activityError activityLabel = "ERR"
)

type activityEntry struct {
	At    time.Time
	Label activityLabel
	Text  string
}

// activityLog keeps the most recent refreshes, action outcomes and failure
// reasons for the lower panel. Oldest entries are dropped past limit.
type activityLog struct {
	entries []activityEntry
	limit   int
}

func newActivityLog(limit int) activityLog {
	return activityLog{entries: make([]activityEntry, 0, 64), limit: limit}
}

func (a *activityLog) reset() {
	a.entries = a.entries[:0]
}

func (a *activityLog) add(at time.Time, label activityLabel, format string, args ...any) {
	a.entries = append(a.entries, activityEntry{At: at, Label: label, Text: fmt.Sprintf(format, args...)})
	if len(a.entries) > a.limit {
		drop := len(a.entries) - a.limit
		a.entries = a.entries[drop:]
	}
}

// addResult records a bulk action outcome, one line per failed job set.
func (a *activityLog) addResult(at time.Time, action string, result ActionResult) {
	if result.FullSuccess() {
		a.add(at, activityOK, "%s: %d job set(s) succeeded", action, len(result.Succeeded))
		return
	}
	a.add(at, activityError, "%s: %d succeeded, %d failed", action, len(result.Succeeded), len(result.Failed))
	for _, f := range result.Failed {
		a.add(at, activityError, "  %s: %s", f.JobSet.JobSetID, f.Reason)
	}
}

func (a *activityLog) len() int {
	return len(a.entries)
}

func activityColor(label activityLabel) lipgloss.Color {
	switch label {
	case activityOK:
		return lipgloss.Color("42")
	case activityError:
		return lipgloss.Color("196")
	default:
		return lipgloss.Color("252")
	}
}

func (a *activityLog) content() string {
	lines := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		label := lipgloss.NewStyle().Foreground(activityColor(e.Label)).Render("[" + string(e.Label) + "]")
		lines = append(lines, fmt.Sprintf("%s %s %s", e.At.Format("15:04:05"), label, e.Text))
	}
	return strings.Join(lines, "\n")
}
