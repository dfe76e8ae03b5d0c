package stm32boot

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// State is the protocol state of a Session.
type State int

// Session states.
const (
	Disconnected State = iota
	Synced
	Ready
	Reading
	Writing
	Erasing
	Protecting
	Booted
)

var stateNames = [...]string{
	Disconnected: "disconnected",
	Synced:       "synced",
	Ready:        "ready",
	Reading:      "reading",
	Writing:      "writing",
	Erasing:      "erasing",
	Protecting:   "protecting",
	Booted:       "booted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config holds the session parameters.
type Config struct {
	// Baud is the rate the transport was opened at. It is informational;
	// the bootloader detects the rate from the sync byte.
	Baud int
	// ReadTimeout bounds the wait for every reply byte.
	ReadTimeout time.Duration
	// EraseTimeout bounds the wait for the final erase acknowledgement.
	EraseTimeout time.Duration
	// ProtectTimeout bounds the wait for the protection commands to complete.
	ProtectTimeout time.Duration
	// SyncAttempts is the number of sync bytes sent before giving up.
	SyncAttempts int
	Retry        RetryPolicy
	Signals      SignalScheme
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Baud:           115200,
		ReadTimeout:    time.Second,
		EraseTimeout:   30 * time.Second,
		ProtectTimeout: 60 * time.Second,
		SyncAttempts:   8,
		Retry:          DefaultRetryPolicy(),
	}
}

// Session is one synchronised conversation with a device bootloader. It owns
// its transport and must only be used from one goroutine at a time.
type Session struct {
	transport Transport
	framer    framer
	config    Config
	state     State
	caps      *CapabilitySet
}

// Synchronize performs the initial handshake on t and returns a session in
// the Synced state.
func Synchronize(t Transport, config Config) (*Session, error) {
	s := &Session{
		transport: t,
		framer:    framer{t: t},
		config:    config,
	}
	if err := s.Synchronize(); err != nil {
		return nil, err
	}
	return s, nil
}

// Synchronize sends the sync byte until the bootloader acknowledges it. It is
// safe to call on a session that is already synchronised; the bootloader
// rejects the extra sync byte with a NACK, which is taken as confirmation.
func (s *Session) Synchronize() error {
	if s.state == Booted {
		return ErrBooted
	}
	wasSynced := s.state != Disconnected

	attempts := s.config.SyncAttempts
	if attempts < 1 {
		attempts = 1
	}

	sig, useSignals := s.transport.(Signaler)
	useSignals = useSignals && s.config.Signals.enabled() && !wasSynced
	if useSignals {
		if err := s.config.Signals.setBoot(sig, true); err != nil {
			return s.disconnect(&TransportError{Op: "set boot signal", Err: err})
		}
		defer func() {
			if err := s.config.Signals.setBoot(sig, false); err != nil {
				pkgLog.Warnf("failed to release boot signal: %v", err)
			}
		}()
	}

	for attempt := 0; attempt < attempts; attempt++ {
		// Only reset on the first attempts in case the reset line itself
		// is putting garbage on the wire.
		if useSignals && attempt < 2 {
			if err := s.config.Signals.pulseReset(sig); err != nil {
				return s.disconnect(&TransportError{Op: "pulse reset", Err: err})
			}
		}
		if err := s.transport.Flush(); err != nil {
			return s.disconnect(&TransportError{Op: "flush", Err: err})
		}

		err := s.framer.sync(s.config.ReadTimeout)
		outcome, isFrame := OutcomeOf(err)
		switch {
		case err == nil:
			s.synced()
			return nil
		case outcome == Nack && wasSynced:
			pkgLog.Debugf("already synchronised")
			s.synced()
			return nil
		case !isFrame:
			return s.disconnect(err)
		}
		pkgLog.Debugf("sync attempt %d/%d: %v", attempt+1, attempts, err)
	}

	s.state = Disconnected
	return errors.Wrapf(ErrHandshakeFailed, "no acknowledgement after %d attempts", attempts)
}

func (s *Session) synced() {
	if s.caps != nil {
		s.state = Ready
	} else {
		s.state = Synced
	}
}

func (s *Session) disconnect(err error) error {
	s.state = Disconnected
	return err
}

// resync synchronises again in the middle of an operation and restores the
// operation's state afterwards.
func (s *Session) resync() error {
	busy := s.state
	if err := s.Synchronize(); err != nil {
		return err
	}
	s.state = busy
	return nil
}

// State returns the current protocol state.
func (s *Session) State() State {
	return s.state
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.config
}

// Close releases the transport. The session cannot be used afterwards.
func (s *Session) Close() error {
	s.state = Disconnected
	return s.transport.Close()
}

// begin checks that cmd may be issued and moves the session into busy.
func (s *Session) begin(cmd Command, busy State) error {
	switch s.state {
	case Ready:
	case Booted:
		return ErrBooted
	default:
		return errors.Wrapf(ErrNotReady, "cannot issue %v in state %v", cmd, s.state)
	}
	if !s.caps.Supports(cmd) {
		return &UnsupportedCommandError{Command: cmd}
	}
	s.state = busy
	return nil
}

// end returns the session to Ready unless the operation moved it elsewhere.
func (s *Session) end(err error) {
	switch {
	case s.state == Booted || s.state == Disconnected:
	case isTransportError(err):
		s.state = Disconnected
	default:
		s.state = Ready
	}
}

func (s *Session) retry(name string, op func() error) error {
	return s.config.Retry.Do(name, op, s.resync)
}
