package ems

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Timeline is an ordered, fixed-duration set of Actions.
//
// Actions stay sorted by (Offset, Index, Payload) after every insert.
// Running a Timeline never mutates it, so the same Timeline can be
// replayed any number of times.
type Timeline struct {
	name     string
	duration time.Duration
	actions  []Action
}

func NewTimeline(name string, duration time.Duration) (*Timeline, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be > 0 (got %s)", ErrInvalidTimeline, duration)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "timeline"
	}
	return &Timeline{name: name, duration: duration}, nil
}

func (t *Timeline) Name() string            { return t.name }
func (t *Timeline) Duration() time.Duration { return t.duration }
func (t *Timeline) Len() int                { return len(t.actions) }

// Actions returns a copy of the sorted actions.
func (t *Timeline) Actions() []Action {
	return slices.Clone(t.actions)
}

// AddAction inserts an action at its sorted position.
func (t *Timeline) AddAction(offset time.Duration, index int, payload string) error {
	if offset < 0 {
		return fmt.Errorf("%w: offset must be >= 0 (got %s)", ErrInvalidAction, offset)
	}
	a := Action{Offset: offset, Index: index, Payload: payload}
	pos, _ := slices.BinarySearchFunc(t.actions, a, compareActions)
	t.actions = slices.Insert(t.actions, pos, a)
	return nil
}

// AddStimulate adds a "G C<ch> I<intensity> T<ms>" command.
// Values are formatted as given; clamping is the caller's concern.
func (t *Timeline) AddStimulate(offset time.Duration, index, stimChannel, intensity, durationMs int) error {
	return t.AddAction(offset, index, FormatStimulate(Stimulus{
		Channel:    stimChannel,
		Intensity:  intensity,
		DurationMs: durationMs,
	}))
}

// Reachable returns the actions that can fire, i.e. whose offset is
// strictly below the timeline duration.
func (t *Timeline) Reachable() []Action {
	out := make([]Action, 0, len(t.actions))
	for _, a := range t.actions {
		if a.Offset >= t.duration {
			break
		}
		out = append(out, a)
	}
	return out
}
