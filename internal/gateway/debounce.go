package gateway

import (
	"time"

	"github.com/wudi/apigate/internal/config"
)

// Debounce collapses bursts of snapshots: the first arrival arms a timer,
// later arrivals replace the pending value and reset it, and the pending
// snapshot is emitted when the timer fires. A finite burst inside the
// window therefore yields exactly one emission — the last snapshot.
//
// The output channel closes when the input closes; a pending snapshot
// whose timer has not fired yet is dropped with it.
func Debounce(in <-chan config.ProxyConfig, d time.Duration) <-chan config.ProxyConfig {
	out := make(chan config.ProxyConfig)

	go func() {
		defer close(out)

		var (
			timer   *time.Timer
			timerC  <-chan time.Time
			pending config.ProxyConfig
		)

		for {
			select {
			case cfg, ok := <-in:
				if !ok {
					if timer != nil {
						timer.Stop()
					}
					return
				}
				pending = cfg
				if timer == nil {
					timer = time.NewTimer(d)
					timerC = timer.C
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(d)
				}

			case <-timerC:
				out <- pending
				pending = config.ProxyConfig{}
				timer = nil
				timerC = nil
			}
		}
	}()

	return out
}
