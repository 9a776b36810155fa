package app

import (
	"fmt"
	"io"
	"text/tabwriter"

	"emsctl/internal/config"
	"emsctl/internal/ems"
)

// PlanEntry is one action as the engine will see it.
type PlanEntry struct {
	Timeline  string
	Duration  string
	Position  int
	Action    ems.Action
	Reachable bool // offset below the timeline duration
	HasDevice bool // index bound to a configured device
}

// BuildPlan validates cfg and lists every action in dispatch order.
func BuildPlan(cfg *config.Config) ([]PlanEntry, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	tls, err := config.BuildTimelines(cfg)
	if err != nil {
		return nil, err
	}
	devices := map[int]bool{}
	for _, d := range cfg.Devices {
		devices[d.Index] = true
	}

	var out []PlanEntry
	for _, tl := range tls {
		for i, a := range tl.Actions() {
			out = append(out, PlanEntry{
				Timeline:  tl.Name(),
				Duration:  tl.Duration().String(),
				Position:  i,
				Action:    a,
				Reachable: a.Offset < tl.Duration(),
				HasDevice: devices[a.Index],
			})
		}
	}
	return out, nil
}

// WritePlan prints entries as an aligned table.
func WritePlan(w io.Writer, entries []PlanEntry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMELINE\tDURATION\t#\tOFFSET\tINDEX\tPAYLOAD\tSTIMULUS\tNOTE")
	for _, e := range entries {
		stim := "-"
		if s, err := ems.ParseStimulate(e.Action.Payload); err == nil {
			stim = fmt.Sprintf("ch=%d i=%d %dms", s.Channel, s.Intensity, s.DurationMs)
		}
		note := ""
		switch {
		case !e.Reachable:
			note = "never fires (offset >= duration)"
		case !e.HasDevice:
			note = "no device; skipped"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%s\t%s\t%s\n",
			e.Timeline, e.Duration, e.Position, e.Action.Offset, e.Action.Index, e.Action.Payload, stim, note)
	}
	return tw.Flush()
}
