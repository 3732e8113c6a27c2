// Package tui is the terminal front end: a scrolling event log, a status
// bar and a command line, built on Bubble Tea.
package tui

import "time"

// logLineMsg carries one line from the log sink.
type logLineMsg string

// logClosedMsg is sent when the log subscription ends.
type logClosedMsg struct{}

// statusTickMsg refreshes the status bar.
type statusTickMsg time.Time

// commandResultMsg carries the dispatcher's acknowledgement.
type commandResultMsg struct {
	line string
	out  string
	err  error
}
