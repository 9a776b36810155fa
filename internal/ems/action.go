package ems

import (
	"cmp"
	"strings"
	"time"
)

// Action is a single scheduled send: at Offset from timeline start,
// write Payload to the channel registered under Index.
type Action struct {
	Offset  time.Duration `json:"offset"`
	Index   int           `json:"index"`
	Payload string        `json:"payload"`
}

// compareActions orders by offset, then index, then payload bytes.
// Payloads compare as strings, so "T1000" sorts before "T200".
func compareActions(a, b Action) int {
	if c := cmp.Compare(a.Offset, b.Offset); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Index, b.Index); c != 0 {
		return c
	}
	return strings.Compare(a.Payload, b.Payload)
}
