package bridge

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
)

// DefaultPollInterval is how often VBUS is checked.
const DefaultPollInterval = 100 * time.Millisecond

// VBusSensor reports whether the USB host supplies power.
type VBusSensor interface {
	VBusPresent() bool
}

// VBusFunc is func type of VBusSensor.
type VBusFunc func() bool

// VBusPresent implements VBusSensor.
func (f VBusFunc) VBusPresent() bool {
	return f()
}

// FileSensor reads VBUS state from a file, e.g. the state attribute of
// a USB device controller in sysfs.
type FileSensor struct {
	Path string
	// Present lists the contents which mean connected.
	Present []string
}

// VBusPresent implements VBusSensor.
func (s *FileSensor) VBusPresent() bool {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		glog.V(2).Infof("bridge: read %s: %v", s.Path, err)
		return false
	}
	state := strings.TrimSpace(string(data))
	for _, p := range s.Present {
		if state == p {
			return true
		}
	}
	return false
}

// PowerMonitor watches VBUS and closes Disconnected once it is lost.
// Every user of the USB connection calls Start and releases it with
// Stop. Polling runs while there is at least one user.
type PowerMonitor struct {
	Sensor   VBusSensor
	Interval time.Duration

	lock         sync.Mutex
	users        int
	cancel       context.CancelFunc
	lostOnce     sync.Once
	disconnected chan struct{}
}

// NewPowerMonitor creates a PowerMonitor.
func NewPowerMonitor(sensor VBusSensor) *PowerMonitor {
	return &PowerMonitor{
		Sensor:       sensor,
		Interval:     DefaultPollInterval,
		disconnected: make(chan struct{}),
	}
}

// Start adds a user and starts polling for the first one. It returns the
// number of users.
func (m *PowerMonitor) Start(ctx context.Context) int {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.users++
	if m.users == 1 {
		pollCtx, cancel := context.WithCancel(ctx)
		m.cancel = cancel
		go m.poll(pollCtx)
	}
	return m.users
}

// Stop releases a user, polling stops with the last one. It returns the
// number of remaining users.
func (m *PowerMonitor) Stop() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.users == 0 {
		return 0
	}
	m.users--
	if m.users == 0 {
		m.cancel()
		m.cancel = nil
	}
	return m.users
}

// Disconnected is closed when VBUS is lost.
func (m *PowerMonitor) Disconnected() <-chan struct{} {
	return m.disconnected
}

// Name implements framework.Named.
func (m *PowerMonitor) Name() string {
	return "vbus-monitor"
}

// Run holds the monitor and waits until VBUS is lost or ctx is done.
func (m *PowerMonitor) Run(ctx context.Context) error {
	m.Start(ctx)
	defer m.Stop()
	select {
	case <-m.disconnected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *PowerMonitor) poll(ctx context.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if !m.Sensor.VBusPresent() {
				m.lostOnce.Do(func() {
					glog.Info("bridge: VBUS lost")
					close(m.disconnected)
				})
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
