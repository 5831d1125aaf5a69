package watcher

import (
	"sync"
	"time"
)

// debouncer delays a per-key callback until the key has been quiet for the
// delay. Triggering a key again restarts its timer.
type debouncer struct {
	delay time.Duration
	fire  func(key string)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newDebouncer(delay time.Duration, fire func(key string)) *debouncer {
	return &debouncer{
		delay:  delay,
		fire:   fire,
		timers: make(map[string]*time.Timer),
	}
}

// Trigger schedules or reschedules the callback for key.
func (d *debouncer) Trigger(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d.delay, func() {
		// A timer that was replaced or cancelled after it expired must not
		// fire or unregister its successor.
		d.mu.Lock()
		current := d.timers[key] == t
		if current {
			delete(d.timers, key)
		}
		d.mu.Unlock()
		if current {
			d.fire(key)
		}
	})
	d.timers[key] = t
}

// Cancel drops the pending callback for key, if any.
func (d *debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.timers[key]; ok {
		t.Stop()
		delete(d.timers, key)
	}
}

// Stop drops every pending callback.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
}

// Pending returns the number of keys waiting to fire.
func (d *debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}
