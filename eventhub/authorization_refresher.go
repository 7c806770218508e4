package eventhub

import (
	"context"
	"sync"
	"time"
)

// authorizationRefresher renews one link's CBS authorization before the
// current token expires. Each refresher owns a single one-shot timer that is
// rescheduled after every renewal attempt and cancelled exactly once, either
// by the link's close notification or by scope disposal.
type authorizationRefresher struct {
	lock       sync.Mutex
	timer      *time.Timer
	cancelled  bool
	cancelOnce sync.Once

	lifetime  context.Context
	renew     func(ctx context.Context) (time.Time, error)
	interval  func(expiry time.Time) time.Duration
	retryWait time.Duration
	report    func(err error)
}

// schedule arms the timer to fire ahead of the given token expiry.
func (refresher *authorizationRefresher) schedule(expiry time.Time) {
	refresher.rescheduleAfter(refresher.interval(expiry))
}

func (refresher *authorizationRefresher) rescheduleAfter(wait time.Duration) {
	if wait < 0 {
		wait = 0
	}

	refresher.lock.Lock()
	defer refresher.lock.Unlock()

	if refresher.cancelled {
		return
	}
	if refresher.timer == nil {
		refresher.timer = time.AfterFunc(wait, refresher.fire)
		return
	}
	refresher.timer.Reset(wait)
}

// fire renews authorization and reschedules. Renewal failures never close
// the link: they are reported and retried after retryWait, leaving broker
// enforcement to reject the link if renewal keeps failing.
func (refresher *authorizationRefresher) fire() {
	if refresher.lifetime.Err() != nil {
		return
	}

	expiry, err := refresher.renew(refresher.lifetime)
	if err != nil {
		if refresher.lifetime.Err() == nil && refresher.report != nil {
			refresher.report(err)
		}
		refresher.rescheduleAfter(refresher.retryWait)
		return
	}

	refresher.schedule(expiry)
}

// cancel stops the timer. Safe to call from disposal and the close
// notification concurrently; only the first call stops the timer.
func (refresher *authorizationRefresher) cancel() {
	if refresher == nil {
		return
	}
	refresher.cancelOnce.Do(func() {
		refresher.lock.Lock()
		refresher.cancelled = true
		if refresher.timer != nil {
			refresher.timer.Stop()
		}
		refresher.lock.Unlock()
	})
}

func (refresher *authorizationRefresher) stopped() bool {
	if refresher == nil {
		return true
	}
	refresher.lock.Lock()
	defer refresher.lock.Unlock()
	return refresher.cancelled
}
