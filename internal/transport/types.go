// Package transport opens ems.Channel implementations for configured devices.
package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"emsctl/internal/ems"
	logx "emsctl/pkg/logx"
)

const (
	DriverTCP    = "tcp"
	DriverDryRun = "dryrun"

	DefaultDialTimeout  = 3 * time.Second
	DefaultWriteTimeout = time.Second
)

var ErrUnknownDriver = errors.New("unknown transport driver")

// DeviceSpec describes one EMS device endpoint.
type DeviceSpec struct {
	Index  int
	Name   string
	Driver string
	// Addr is host:port for the tcp driver.
	Addr string

	DialTimeout   time.Duration
	WriteTimeout  time.Duration
	AutoReconnect bool

	// RatePerSec > 0 paces sends through a token bucket.
	RatePerSec float64
	Burst      int
}

// Open returns an unconnected channel for spec.
func Open(spec DeviceSpec, log logx.Logger) (ems.Channel, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.Int("device", spec.Index), logx.String("driver", spec.Driver))
	if spec.Name != "" {
		log = log.With(logx.String("name", spec.Name))
	}

	var ch ems.Channel
	switch strings.ToLower(strings.TrimSpace(spec.Driver)) {
	case DriverTCP:
		if strings.TrimSpace(spec.Addr) == "" {
			return nil, fmt.Errorf("device %d: addr is required for tcp driver", spec.Index)
		}
		ch = NewTCP(spec, log)
	case DriverDryRun, "dry-run", "dry_run":
		ch = NewDryRun(spec.Index, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, spec.Driver)
	}

	if spec.RatePerSec > 0 {
		ch = RateLimited(ch, spec.RatePerSec, spec.Burst)
	}
	return ch, nil
}
