package voice

import (
	"log/slog"
	"time"
)

// Supervisor owns a Session's lifetime, restarting it on EventFatal.
// Protocol violations and transport errors are terminal to the session but
// trigger a supervised restart rather than killing the process.
type Supervisor struct {
	session *Session
	logger  *slog.Logger

	restartDelay time.Duration
	fresh        bool

	stop chan struct{}
	done chan struct{}
}

// NewSupervisor watches session's event stream and calls Restart(fresh,
// restartDelay) whenever EventFatal fires.
func NewSupervisor(session *Session, restartDelay time.Duration, fresh bool, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	sup := &Supervisor{
		session:      session,
		logger:       logger,
		restartDelay: restartDelay,
		fresh:        fresh,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go sup.run()
	return sup
}

func (sup *Supervisor) run() {
	defer close(sup.done)
	for {
		select {
		case ev, ok := <-sup.session.Events():
			if !ok {
				return
			}
			if ev.Kind != EventFatal {
				continue
			}
			sup.logger.Warn("voice: session failed, scheduling restart",
				slog.String("error", ev.Cause.Error()),
				slog.Duration("wait", sup.restartDelay))
			sup.session.Restart(sup.fresh, sup.restartDelay)
		case <-sup.stop:
			return
		}
	}
}

// Stop ends supervision without touching the underlying session; callers
// that also want the session torn down should call Session.Close
// themselves.
func (sup *Supervisor) Stop() {
	close(sup.stop)
	<-sup.done
}
