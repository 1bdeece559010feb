package capture

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/vadcapture/pkg/audio"
)

// durationCounter hands out stream timestamps from driver callbacks.
type durationCounter struct {
	mu  sync.Mutex
	pos time.Duration
}

func (d *durationCounter) advance(by time.Duration) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	at := d.pos
	d.pos += by
	return at
}

// classifyNative maps a native driver error onto the audio error sentinels.
func classifyNative(err error) error {
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "access denied"), strings.Contains(lower, "permission"):
		return fmt.Errorf("%w: %v", audio.ErrPermissionDenied, err)
	case strings.Contains(lower, "no device"),
		strings.Contains(lower, "device not found"),
		strings.Contains(lower, "does not exist"),
		strings.Contains(lower, "invalid device"):
		return fmt.Errorf("%w: %v", audio.ErrDeviceNotFound, err)
	}
	return &audio.DeviceError{Name: "NotReadableError", Err: err}
}
