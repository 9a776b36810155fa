package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"emsctl/internal/ems"
	logx "emsctl/pkg/logx"
)

// TCP is a line-oriented channel to a serial or BLE bridge. Each payload is
// written followed by a single '\n'.
type TCP struct {
	spec DeviceSpec
	log  logx.Logger

	mu   sync.Mutex
	conn net.Conn
}

func NewTCP(spec DeviceSpec, log logx.Logger) *TCP {
	if spec.DialTimeout <= 0 {
		spec.DialTimeout = DefaultDialTimeout
	}
	if spec.WriteTimeout <= 0 {
		spec.WriteTimeout = DefaultWriteTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TCP{spec: spec, log: log}
}

func (t *TCP) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	return t.dialLocked(ctx)
}

func (t *TCP) dialLocked(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	d := net.Dialer{Timeout: t.spec.DialTimeout}
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", t.spec.Addr)
	if err != nil {
		return classifyDialError(t.spec.Addr, err)
	}
	t.conn = conn
	t.log.Info("device connected", logx.String("addr", t.spec.Addr), logx.Duration("took", time.Since(start)))
	return nil
}

func (t *TCP) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.log.Info("device disconnected", logx.String("addr", t.spec.Addr))
	return err
}

func (t *TCP) Send(ctx context.Context, payload string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		if !t.spec.AutoReconnect {
			return ems.ErrNotConnected
		}
		t.log.Warn("device not connected, reconnecting", logx.String("addr", t.spec.Addr))
		if err := t.dialLocked(ctx); err != nil {
			return err
		}
	}

	_ = t.conn.SetWriteDeadline(time.Now().Add(t.spec.WriteTimeout))
	if _, err := t.conn.Write([]byte(payload + "\n")); err != nil {
		// Drop the broken connection so the next send can redial.
		_ = t.conn.Close()
		t.conn = nil
		return fmt.Errorf("%w: %v", ems.ErrTransportWrite, err)
	}
	return nil
}

func (t *TCP) State() ems.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return ems.Connected
	}
	return ems.Disconnected
}

func classifyDialError(addr string, err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %s: %v", ems.ErrDeviceNotFound, addr, err)
	}
	var addrErr *net.AddrError
	if errors.As(err, &addrErr) {
		return fmt.Errorf("%w: %s: %v", ems.ErrDeviceNotFound, addr, err)
	}
	return fmt.Errorf("%w: %s: %v", ems.ErrConnectFailure, addr, err)
}
