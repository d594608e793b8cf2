// Package watchdog tracks task liveness through explicit feeds. A task
// that misses its deadline triggers one alert per check period; its feed
// clock then restarts so a stuck task alerts again only after a further
// full timeout.
package watchdog

import (
	"context"
	"sync"
	"time"

	"linkcore-go/x/conv"
)

// ID names a registered task slot. Invalid is returned when the table is
// full; feeding it is a no-op.
type ID uint8

const Invalid ID = 0xFF

// AlertFunc is called from the monitor loop for each expired task.
type AlertFunc func(task string, elapsed, timeout time.Duration)

type Config struct {
	Capacity int           // task slots (default 3)
	Period   time.Duration // check interval (default 1s)
	Alert    AlertFunc     // nil disables alerting
	Log      func(string)  // diagnostic sink, nil discards
}

type slot struct {
	name     string
	timeout  time.Duration
	lastFeed time.Time
	used     bool
}

type Monitor struct {
	mu     sync.Mutex
	slots  []slot
	period time.Duration
	alert  AlertFunc
	log    func(string)

	rearm chan time.Duration // coalesced period updates
}

func New(cfg Config) *Monitor {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 3
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Second
	}
	if cfg.Log == nil {
		cfg.Log = func(string) {}
	}
	return &Monitor{
		slots:  make([]slot, cfg.Capacity),
		period: cfg.Period,
		alert:  cfg.Alert,
		log:    cfg.Log,
		rearm:  make(chan time.Duration, 1),
	}
}

// Register claims a slot for a task. A full table returns Invalid.
func (m *Monitor) Register(name string, timeout time.Duration) ID {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.slots {
		if m.slots[i].used {
			continue
		}
		m.slots[i] = slot{
			name:     name,
			timeout:  timeout,
			lastFeed: time.Now(),
			used:     true,
		}
		m.log(registerLine(name, ID(i), timeout))
		return ID(i)
	}
	m.log("[WATCHDOG] ERROR: cannot register '" + name + "', table full")
	return Invalid
}

// Feed refreshes a task's deadline. Unknown IDs are ignored.
func (m *Monitor) Feed(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(id) >= len(m.slots) || !m.slots[id].used {
		return
	}
	m.slots[id].lastFeed = time.Now()
}

// SetPeriod changes the check interval; the running loop re-arms on the
// next select pass.
func (m *Monitor) SetPeriod(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.period = d
	m.mu.Unlock()
	select {
	case m.rearm <- d:
	default:
	}
}

// TaskStat is a point-in-time view of one slot.
type TaskStat struct {
	ID        ID
	Name      string
	SinceFeed time.Duration
	Timeout   time.Duration
}

func (m *Monitor) Stats() []TaskStat {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []TaskStat
	for i := range m.slots {
		if !m.slots[i].used {
			continue
		}
		out = append(out, TaskStat{
			ID:        ID(i),
			Name:      m.slots[i].name,
			SinceFeed: now.Sub(m.slots[i].lastFeed),
			Timeout:   m.slots[i].timeout,
		})
	}
	return out
}

// Run checks every period until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.mu.Lock()
	period := m.period
	m.mu.Unlock()

	tick := time.NewTicker(period)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-m.rearm:
			tick.Reset(d)
		case <-tick.C:
			m.check(time.Now())
		}
	}
}

func (m *Monitor) check(now time.Time) {
	type expired struct {
		name              string
		elapsed, deadline time.Duration
	}
	var hits []expired

	m.mu.Lock()
	for i := range m.slots {
		s := &m.slots[i]
		if !s.used {
			continue
		}
		elapsed := now.Sub(s.lastFeed)
		if elapsed > s.timeout {
			hits = append(hits, expired{s.name, elapsed, s.timeout})
			s.lastFeed = now
		}
	}
	m.mu.Unlock()

	// Alerts run outside the lock; callbacks may feed or register.
	for _, h := range hits {
		if m.alert != nil {
			m.alert(h.name, h.elapsed, h.deadline)
		}
	}
}

func registerLine(name string, id ID, timeout time.Duration) string {
	var buf [96]byte
	var num [20]byte
	b := append(buf[:0], "[WATCHDOG] Registered '"...)
	b = append(b, name...)
	b = append(b, "' (ID="...)
	b = append(b, conv.Utoa(num[:], uint64(id))...)
	b = append(b, ", timeout="...)
	b = append(b, conv.Utoa(num[:], uint64(timeout/time.Millisecond))...)
	b = append(b, "ms)"...)
	return string(b)
}
