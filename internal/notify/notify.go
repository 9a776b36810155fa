// Package notify reports finished runs to an operator.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"
)

// Report summarizes one finished run.
type Report struct {
	RunID     string
	Started   time.Time
	Took      time.Duration
	Timelines int
	Fired     int
	Skipped   int
	Failed    int
	Error     string
}

func (r Report) OK() bool { return r.Error == "" }

// Notifier delivers run reports. Implementations decide which reports are
// worth sending.
type Notifier interface {
	NotifyRun(ctx context.Context, r Report) error
	Close() error
}

// Nop discards every report.
type Nop struct{}

func (Nop) NotifyRun(context.Context, Report) error { return nil }
func (Nop) Close() error                            { return nil }

// FormatReport renders r as Telegram HTML.
func FormatReport(r Report) string {
	var b strings.Builder
	if r.OK() {
		b.WriteString("✅ <b>EMS run finished</b>\n")
	} else {
		b.WriteString("❌ <b>EMS run failed</b>\n")
	}
	fmt.Fprintf(&b, "run: <code>%s</code>\n", html.EscapeString(r.RunID))
	fmt.Fprintf(&b, "timelines: %d, took: %s\n", r.Timelines, r.Took.Round(time.Millisecond))
	fmt.Fprintf(&b, "fired: %d, skipped: %d, failed: %d", r.Fired, r.Skipped, r.Failed)
	if !r.OK() {
		fmt.Fprintf(&b, "\nerror: <pre>%s</pre>", html.EscapeString(r.Error))
	}
	return b.String()
}
