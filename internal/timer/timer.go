// Package timer is a coarse clock shared by the event loop. The idle sweep compares
// connections' last activity against it, and responses take their Date header from it,
// so neither calls time.Now on every event.
package timer

import (
	"sync/atomic"
	"time"
)

// Time contains the unix-time in milliseconds updated every [Resolution] milliseconds
var Time = new(atomic.Int64)

// date is the Date header value for the current second.
var date atomic.Pointer[string]

func Now() time.Time {
	millis := Time.Load()
	return time.Unix(millis/1000, (millis%1000)*1e6)
}

// Since returns the time elapsed since t, according to the cached clock.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}

// Date returns the current time in the HTTP-date format of RFC 9110, 5.6.7.
func Date() string {
	return *date.Load()
}

// DateFormat is the IMF-fixdate layout. Times must be in UTC.
const DateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Resolution is the frequency at which time is updated. Idle timeouts are measured in
// seconds, and Date has a one-second precision anyway
const Resolution = 500 * time.Millisecond

func tick() {
	now := time.Now()
	Time.Store(now.UnixMilli())

	formatted := now.UTC().Format(DateFormat)
	if prev := date.Load(); prev == nil || *prev != formatted {
		date.Store(&formatted)
	}
}

func init() {
	// the goroutine isn't guaranteed to start immediately, and a zero clock would make
	// every connection look idle for decades
	tick()

	go func() {
		for {
			time.Sleep(Resolution)
			tick()
		}
	}()
}
