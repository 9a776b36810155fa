package ems

import (
	"maps"
	"slices"
)

// Registry maps a small integer index to a Channel.
//
// Registry is not synchronized; Dispatcher serializes mutation against runs.
type Registry struct {
	channels map[int]Channel
}

func NewRegistry() *Registry {
	return &Registry{channels: map[int]Channel{}}
}

// Register inserts or overwrites the channel for index.
func (r *Registry) Register(index int, ch Channel) {
	if r.channels == nil {
		r.channels = map[int]Channel{}
	}
	r.channels[index] = ch
}

func (r *Registry) Lookup(index int) (Channel, bool) {
	if r == nil {
		return nil, false
	}
	ch, ok := r.channels[index]
	return ch, ok && ch != nil
}

// Indexes returns registered indexes in ascending order.
func (r *Registry) Indexes() []int {
	if r == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(r.channels))
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.channels)
}

// ChannelLookup is the read-only view the engine needs.
type ChannelLookup interface {
	Lookup(index int) (Channel, bool)
}
