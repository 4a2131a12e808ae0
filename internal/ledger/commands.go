package ledger

import (
	"container/list"
	"log/slog"
	"time"
)

type wantToPassCmd struct {
	rawRoute string
	deadline time.Time
	reply    chan bool
}

func (c *wantToPassCmd) handle(l *Ledger) {
	now := l.now()
	if now.After(c.deadline) {
		c.reply <- false
		return
	}

	if l.globalGateActive(now) {
		l.enqueueGlobal(c)
		return
	}

	l.admitOrQueue(c)
}

// admitOrQueue is the per-bucket half of the WantToPass algorithm, run both
// for fresh arrivals and for requests released from the global queue.
func (l *Ledger) admitOrQueue(c *wantToPassCmd) {
	now := l.now()
	if now.After(c.deadline) {
		c.reply <- false
		return
	}

	b := l.bucketFor(c.rawRoute)

	switch {
	case b.remaining < 0:
		// No limit observed yet: admit freely, nothing to decrement.
		c.reply <- true

	case b.remaining > 0:
		b.remaining--
		c.reply <- true

	case !b.resetAt.IsZero() && !now.Before(b.resetAt):
		// The reset should have fired already; refill defensively in case
		// the timer callback hasn't been scheduled yet (best-effort, since
		// we have no fresher server observation to draw on).
		l.refillBucket(c.rawRoute, b, now)
		if b.remaining > 0 {
			b.remaining--
		}
		c.reply <- true

	default:
		l.queueOnBucket(c, b)
	}
}

func (l *Ledger) queueOnBucket(c *wantToPassCmd, b *bucket) {
	l.nextWaiterID++
	w := &waiter{
		id:       l.nextWaiterID,
		rawRoute: c.rawRoute,
		deadline: c.deadline,
		reply:    c.reply,
	}
	w.elem = b.waiters.PushBack(w)
	l.armWaiterTimeout(w)
}

func (l *Ledger) enqueueGlobal(c *wantToPassCmd) {
	l.nextWaiterID++
	w := &waiter{
		id:       l.nextWaiterID,
		rawRoute: c.rawRoute,
		deadline: c.deadline,
		reply:    c.reply,
		global:   true,
	}
	w.elem = l.globalWaiters.PushBack(w)
	l.armWaiterTimeout(w)
}

func (l *Ledger) armWaiterTimeout(w *waiter) {
	wait := w.deadline.Sub(l.now())
	if wait < 0 {
		wait = 0
	}
	id := w.id
	rawRoute := w.rawRoute
	global := w.global
	w.timer = time.AfterFunc(wait, func() {
		l.cmds <- &waiterTimeoutCmd{id: id, rawRoute: rawRoute, global: global}
	})
}

func (l *Ledger) globalGateActive(now time.Time) bool {
	return !l.globalResetAt.IsZero() && now.Before(l.globalResetAt)
}

func (l *Ledger) bucketFor(rawRoute string) *bucket {
	b, ok := l.buckets[rawRoute]
	if !ok {
		b = &bucket{remaining: -1, waiters: list.New()}
		l.buckets[rawRoute] = b
	}
	return b
}

// refillBucket resets a stale bucket's remaining count to its last known
// limit. Called both defensively from admitOrQueue and from the armed
// reset timer.
func (l *Ledger) refillBucket(rawRoute string, b *bucket, now time.Time) {
	if b.limit > 0 {
		b.remaining = b.limit
	} else {
		b.remaining = -1
	}
	b.resetAt = time.Time{}
}

type updateCmd struct {
	rawRoute  string
	isGlobal  bool
	tilReset  time.Duration
	remaining int
	limit     int
}

func (c *updateCmd) handle(l *Ledger) {
	now := l.now()

	if c.isGlobal && c.tilReset > 0 {
		resetAt := now.Add(c.tilReset)
		if resetAt.After(l.globalResetAt) {
			l.globalResetAt = resetAt
			if l.globalTimer != nil {
				l.globalTimer.Stop()
			}
			l.globalTimer = time.AfterFunc(c.tilReset, func() {
				l.cmds <- &globalExpiredCmd{}
			})
			l.logger.Info("ledger: global gate armed",
				slog.Duration("til_reset", c.tilReset))
		}
	}

	b := l.bucketFor(c.rawRoute)
	b.limit = c.limit
	b.remaining = c.remaining // server is authoritative; never additively merged

	if c.tilReset > 0 {
		b.resetAt = now.Add(c.tilReset)
		b.windowDuration = c.tilReset
		if b.resetTimer != nil {
			b.resetTimer.Stop()
		}
		rawRoute := c.rawRoute
		b.resetTimer = time.AfterFunc(c.tilReset, func() {
			l.cmds <- &bucketResetCmd{rawRoute: rawRoute}
		})
	}

	l.logger.Debug("ledger: updated bucket",
		slog.String("raw_route", c.rawRoute),
		slog.Int("remaining", c.remaining),
		slog.Int("limit", c.limit),
		slog.Bool("global", c.isGlobal))
}

type bucketResetCmd struct {
	rawRoute string
}

func (c *bucketResetCmd) handle(l *Ledger) {
	b, ok := l.buckets[c.rawRoute]
	if !ok {
		return
	}

	now := l.now()
	l.refillBucket(c.rawRoute, b, now)

	admitted := 0
	limit := b.limit
	for b.waiters.Len() > 0 && (limit <= 0 || admitted < limit) {
		front := b.waiters.Front()
		w := front.Value.(*waiter)
		b.waiters.Remove(front)
		w.timer.Stop()
		w.reply <- true
		admitted++
	}

	if limit > 0 {
		b.remaining = limit - admitted
		if b.remaining < 0 {
			b.remaining = 0
		}
	}

	if b.waiters.Len() > 0 && b.windowDuration > 0 {
		// More waiters than the window admits: assume the next window is
		// the same length as the last observed one and try again then.
		b.resetAt = now.Add(b.windowDuration)
		rawRoute := c.rawRoute
		b.resetTimer = time.AfterFunc(b.windowDuration, func() {
			l.cmds <- &bucketResetCmd{rawRoute: rawRoute}
		})
	}
}

type globalExpiredCmd struct{}

func (c *globalExpiredCmd) handle(l *Ledger) {
	l.globalResetAt = time.Time{}
	waiters := l.globalWaiters
	l.globalWaiters = list.New()

	now := l.now()
	for e := waiters.Front(); e != nil; e = e.Next() {
		w := e.Value.(*waiter)
		w.timer.Stop()
		if now.After(w.deadline) {
			w.reply <- false
			continue
		}
		l.admitOrQueue(&wantToPassCmd{rawRoute: w.rawRoute, deadline: w.deadline, reply: w.reply})
	}
}

type waiterTimeoutCmd struct {
	id       uint64
	rawRoute string
	global   bool
}

func (c *waiterTimeoutCmd) handle(l *Ledger) {
	var waiters *list.List
	if c.global {
		waiters = l.globalWaiters
	} else {
		b, ok := l.buckets[c.rawRoute]
		if !ok {
			return
		}
		waiters = b.waiters
	}

	for e := waiters.Front(); e != nil; e = e.Next() {
		w := e.Value.(*waiter)
		if w.id == c.id {
			waiters.Remove(e)
			w.reply <- false
			return
		}
	}
}

type snapshotsReply struct {
	buckets       []Snapshot
	globalResetAt time.Time
}

type snapshotsCmd struct {
	reply chan snapshotsReply
}

func (c *snapshotsCmd) handle(l *Ledger) {
	out := make([]Snapshot, 0, len(l.buckets))
	for rawRoute, b := range l.buckets {
		out = append(out, Snapshot{
			RawRoute:  rawRoute,
			Limit:     b.limit,
			Remaining: b.remaining,
			ResetAt:   b.resetAt,
			Queued:    b.waiters.Len(),
		})
	}
	c.reply <- snapshotsReply{buckets: out, globalResetAt: l.globalResetAt}
}
