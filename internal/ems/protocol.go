package ems

import (
	"fmt"
	"strconv"
	"strings"
)

// Stimulation limits applied by front ends (never by the engine).
const (
	MinIntensity  = 1
	MaxIntensity  = 255
	MinDurationMs = 200
)

// Stimulus is one "G C<channel> I<intensity> T<duration_ms>" command.
// Channel is the output line on the peripheral (0 or 1), not the registry index.
type Stimulus struct {
	Channel    int `json:"channel"`
	Intensity  int `json:"intensity"`
	DurationMs int `json:"duration_ms"`
}

func FormatStimulate(s Stimulus) string {
	return fmt.Sprintf("G C%d I%d T%d", s.Channel, s.Intensity, s.DurationMs)
}

// ParseStimulate parses a stimulate command. Tokens after the leading "G"
// may appear in any order; each of C, I and T is required exactly once.
func ParseStimulate(cmd string) (Stimulus, error) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 || fields[0] != "G" {
		return Stimulus{}, fmt.Errorf("%w: %q: missing G prefix", ErrInvalidCommand, cmd)
	}
	var (
		s    Stimulus
		seen = map[byte]bool{}
	)
	for _, f := range fields[1:] {
		if len(f) < 2 {
			return Stimulus{}, fmt.Errorf("%w: %q: bad token %q", ErrInvalidCommand, cmd, f)
		}
		key := f[0]
		n, err := strconv.Atoi(f[1:])
		if err != nil || n < 0 {
			return Stimulus{}, fmt.Errorf("%w: %q: bad number in %q", ErrInvalidCommand, cmd, f)
		}
		if seen[key] {
			return Stimulus{}, fmt.Errorf("%w: %q: duplicate %c", ErrInvalidCommand, cmd, key)
		}
		seen[key] = true
		switch key {
		case 'C':
			s.Channel = n
		case 'I':
			s.Intensity = n
		case 'T':
			s.DurationMs = n
		default:
			return Stimulus{}, fmt.Errorf("%w: %q: unknown token %q", ErrInvalidCommand, cmd, f)
		}
	}
	for _, k := range []byte{'C', 'I', 'T'} {
		if !seen[k] {
			return Stimulus{}, fmt.Errorf("%w: %q: missing %c", ErrInvalidCommand, cmd, k)
		}
	}
	return s, nil
}

func ClampIntensity(v int) int {
	if v < MinIntensity {
		return MinIntensity
	}
	if v > MaxIntensity {
		return MaxIntensity
	}
	return v
}

func ClampDurationMs(v int) int {
	if v < MinDurationMs {
		return MinDurationMs
	}
	return v
}

// Clamp returns s with intensity and duration clamped.
func (s Stimulus) Clamp() Stimulus {
	s.Intensity = ClampIntensity(s.Intensity)
	s.DurationMs = ClampDurationMs(s.DurationMs)
	return s
}
