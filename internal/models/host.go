package models

import (
	"net"
	"strconv"
	"sync/atomic"
	"time"
)

// Host is a registered collection target. Only the statistics are written by the executor.
type Host struct {
	HostID    string `json:"host_id" yaml:"host_id"`
	Hostname  string `json:"hostname" yaml:"hostname"`
	IPAddress string `json:"ip_address" yaml:"ip_address"`
	Port      int    `json:"port" yaml:"port"`
	Domain    string `json:"domain,omitempty" yaml:"domain"`
	// OS is a GOOS value ("linux", "windows", "darwin"), empty means linux
	OS            string `json:"os,omitempty" yaml:"os"`
	Username      string `json:"username,omitempty" yaml:"username"`
	CredentialRef string `json:"credential_ref,omitempty" yaml:"credential_ref"`
	Enabled       bool   `json:"enabled" yaml:"enabled"`

	Stats *HostStats `json:"-" yaml:"-"`
}

// Address returns the dialable host:port, preferring the IP address
func (h *Host) Address() string {
	addr := h.IPAddress
	if addr == "" {
		addr = h.Hostname
	}

	port := h.Port
	if port == 0 {
		port = 22
	}

	return net.JoinHostPort(addr, strconv.Itoa(port))
}

// HostStats holds counters updated concurrently by executor workers
type HostStats struct {
	connections   atomic.Int64
	successes     atomic.Int64
	errors        atomic.Int64
	lastConnected atomic.Int64
}

// HostStatsSnapshot is a consistent-enough copy for reporting
type HostStatsSnapshot struct {
	ConnectionCount int64      `json:"connection_count"`
	SuccessCount    int64      `json:"success_count"`
	ErrorCount      int64      `json:"error_count"`
	SuccessRate     float64    `json:"success_rate"`
	LastConnected   *time.Time `json:"last_connected,omitempty"`
}

func (s *HostStats) Record(success bool, at time.Time) {
	s.connections.Add(1)
	if success {
		s.successes.Add(1)
	} else {
		s.errors.Add(1)
	}
	s.lastConnected.Store(at.UnixNano())
}

func (s *HostStats) Snapshot() HostStatsSnapshot {
	snap := HostStatsSnapshot{
		ConnectionCount: s.connections.Load(),
		SuccessCount:    s.successes.Load(),
		ErrorCount:      s.errors.Load(),
	}

	if snap.ConnectionCount > 0 {
		snap.SuccessRate = float64(snap.SuccessCount) / float64(snap.ConnectionCount)
	}

	if ts := s.lastConnected.Load(); ts > 0 {
		t := time.Unix(0, ts)
		snap.LastConnected = &t
	}

	return snap
}
