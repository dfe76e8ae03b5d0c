package stm32boot

import "time"

// RetryPolicy decides how elementary operations are repeated when the device
// does not acknowledge them.
//
// NACK and timeout outcomes are retried up to Retries times, sleeping Backoff
// between attempts. A desynchronised reply triggers one resynchronisation
// followed by a single further attempt. Any other error, including transport
// failures and invalid arguments, is returned immediately.
type RetryPolicy struct {
	Retries int
	Backoff time.Duration
}

// DefaultRetryPolicy returns the policy used by DefaultConfig.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Retries: 3,
		Backoff: 10 * time.Millisecond,
	}
}

// Do runs op under the policy. resync is called before retrying a
// desynchronised operation and may be nil, in which case desync is fatal.
func (p RetryPolicy) Do(name string, op func() error, resync func() error) error {
	retries := 0
	resynced := false
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		outcome, ok := OutcomeOf(err)
		if !ok {
			return err
		}

		switch outcome {
		case Desync:
			if resynced || resync == nil {
				return &RetryError{Op: name, Attempts: attempt, Err: err}
			}
			resynced = true
			pkgLog.Warnf("%s: %v, resynchronising", name, err)
			if rerr := resync(); rerr != nil {
				return &RetryError{Op: name, Attempts: attempt, Err: rerr}
			}

		default:
			if retries >= p.Retries {
				return &RetryError{Op: name, Attempts: attempt, Err: err}
			}
			retries++
			pkgLog.Debugf("%s: %v, retry %d/%d", name, err, retries, p.Retries)
			if p.Backoff > 0 {
				time.Sleep(p.Backoff)
			}
		}
	}
}
