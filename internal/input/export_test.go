package input

import "time"

// SetHotplugSettle shortens the delay before a new device is opened.
func SetHotplugSettle(e *Engine, d time.Duration) {
	e.hotplugSettle = d
}
