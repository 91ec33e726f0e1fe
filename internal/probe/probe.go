// Package probe reports whether downloads can currently run: the download root must be
// usable and the upstream server reachable.
package probe

import (
	"context"
	"net"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Storage checks the download root.
type Storage struct {
	root   string
	logger *zap.Logger
}

func NewStorage(root string, logger *zap.Logger) *Storage {
	return &Storage{root: root, logger: logger}
}

// Available reports whether the root is a directory, creating it when missing.
func (s *Storage) Available() bool {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		s.logger.Debug("Download root unavailable", zap.String("root", s.root), zap.Error(err))
		return false
	}

	info, err := os.Stat(s.root)
	if err != nil || !info.IsDir() {
		s.logger.Debug("Download root is not a directory", zap.String("root", s.root))
		return false
	}
	return true
}

// Network tracks reachability of an address. The last result is cached so the scheduler
// never waits on a dial.
type Network struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
	online   atomic.Bool
	logger   *zap.Logger
}

// NewNetwork creates a probe for addr. An empty addr is always online.
func NewNetwork(addr string, interval, timeout time.Duration, logger *zap.Logger) *Network {
	n := &Network{
		addr:     addr,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
	n.online.Store(true)
	return n
}

func (n *Network) Available() bool { return n.online.Load() }

// Run probes until ctx is done.
func (n *Network) Run(ctx context.Context) error {
	if n.addr == "" {
		return nil
	}

	n.logger.Info("Starting network probe", zap.String("addr", n.addr), zap.Duration("interval", n.interval))
	n.Check(ctx)

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n.logger.Info("Network probe stopped")
			return nil
		case <-ticker.C:
			n.Check(ctx)
		}
	}
}

// Check dials the address once and records the result.
func (n *Network) Check(ctx context.Context) bool {
	if n.addr == "" {
		return true
	}

	dialCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", n.addr)
	online := err == nil
	if online {
		conn.Close()
	}

	if n.online.Swap(online) != online {
		if online {
			n.logger.Info("Network available", zap.String("addr", n.addr))
		} else {
			n.logger.Warn("Network unavailable", zap.String("addr", n.addr), zap.Error(err))
		}
	}
	return online
}

// Availability combines both probes for the scheduler.
type Availability struct {
	Storage *Storage
	Network *Network
}

func (a Availability) StorageAvailable() bool { return a.Storage.Available() }
func (a Availability) NetworkAvailable() bool { return a.Network.Available() }
