// Package ems plays back timed stimulation commands to EMS peripherals.
//
// A Timeline holds Actions sorted by (offset, channel index, payload).
// The Engine fires each due Action exactly once through the Channel
// registered for its index, on a single goroutine, awaiting every Send
// before checking the next Action. The Dispatcher owns the channel
// registry and runs its Timelines strictly one after another.
package ems
