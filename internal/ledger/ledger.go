// Package ledger implements the rate-limit ledger (C1): a single-owner
// registry, keyed by rawRoute, that decides whether a request may proceed
// now and absorbs rate-limit snapshots extracted from responses.
//
// The bucket map and per-bucket waiter queues are mutated from two
// directions — request arrivals and response feedback — so ownership is
// concentrated in one goroutine reading a command channel, the
// actor-as-single-owner pattern re-expressed without an actor framework:
// commands are plain values with a handle method, not messages dispatched
// through reflection or a mailbox library.
package ledger

import (
	"container/list"
	"context"
	"log/slog"
	"time"

	"github.com/tjfontaine/discordgw/internal/telemetry"
)

// command is anything the ledger goroutine can process. Commands run
// exclusively on the owning goroutine, so they may freely mutate the
// Ledger's maps without locking.
type command interface {
	handle(l *Ledger)
}

// Ledger tracks per-route and global rate-limit state and decides whether a
// request may proceed now. Zero value is not usable; construct with New.
type Ledger struct {
	logger *slog.Logger
	now    func() time.Time

	cmds chan command
	quit chan struct{}
	done chan struct{}

	buckets       map[string]*bucket
	globalResetAt time.Time
	globalTimer   *time.Timer
	globalWaiters *list.List // of *waiter

	nextWaiterID uint64
}

type bucket struct {
	limit          int
	remaining      int // -1 means "unknown, no observed limit yet"
	resetAt        time.Time
	windowDuration time.Duration
	waiters        *list.List // of *waiter
	resetTimer     *time.Timer
}

type waiter struct {
	id       uint64
	rawRoute string
	deadline time.Time
	reply    chan bool
	timer    *time.Timer
	elem     *list.Element // set once queued, for O(1) removal
	global   bool
}

// Option configures a Ledger at construction.
type Option func(*Ledger)

// WithClock overrides the ledger's notion of "now", for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New starts the ledger's owning goroutine and returns a handle to it.
// Callers must call Close when done.
func New(logger *slog.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		logger:        logger,
		now:           time.Now,
		cmds:          make(chan command, 256),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
		buckets:       make(map[string]*bucket),
		globalWaiters: list.New(),
	}
	go l.run()
	return l
}

// run never closes cmds — timer callbacks (armWaiterTimeout, the global and
// per-bucket reset timers) send into it from arbitrary goroutines, and a
// timer that fires just as Close runs would panic sending on a closed
// channel. Shutdown instead happens over quit, which nothing ever sends on.
func (l *Ledger) run() {
	for {
		select {
		case cmd := <-l.cmds:
			cmd.handle(l)
		case <-l.quit:
			close(l.done)
			return
		}
	}
}

// Close stops the ledger goroutine. Timers already in flight may still try
// to enqueue a command after this returns; those sends land in the buffered
// channel that nothing reads any more (and block forever once it is full)
// rather than panicking, which is fine since Close means the process is
// tearing down.
func (l *Ledger) Close() {
	close(l.quit)
	<-l.done
}

// WantToPass asks whether a request against rawRoute may proceed. It blocks
// until admitted, refused, ctx is cancelled, or maxWait elapses — whichever
// comes first. A false result means the caller should treat this as
// Dropped.
func (l *Ledger) WantToPass(ctx context.Context, rawRoute string, maxWait time.Duration) bool {
	ctx, span := telemetry.StartRouteSpan(ctx, "ledger.want_to_pass", "", rawRoute)
	defer span.End()

	deadline := l.now().Add(maxWait)
	reply := make(chan bool, 1)

	select {
	case l.cmds <- &wantToPassCmd{rawRoute: rawRoute, deadline: deadline, reply: reply}:
	case <-ctx.Done():
		return false
	}

	select {
	case ok := <-reply:
		return ok
	case <-ctx.Done():
		return false
	}
}

// UpdateRatelimits merges a rate-limit snapshot extracted from a response
// into the ledger. It is fire-and-forget from the caller's perspective.
func (l *Ledger) UpdateRatelimits(rawRoute string, isGlobal bool, tilReset time.Duration, remaining, limit int) {
	l.cmds <- &updateCmd{
		rawRoute:  rawRoute,
		isGlobal:  isGlobal,
		tilReset:  tilReset,
		remaining: remaining,
		limit:     limit,
	}
}

// Snapshot is a read-only view of one bucket, for the admin surface.
type Snapshot struct {
	RawRoute  string
	Limit     int
	Remaining int
	ResetAt   time.Time
	Queued    int
}

// Snapshots returns the current state of every observed bucket plus whether
// the global gate is in force. It is answered synchronously by the owning
// goroutine to avoid racing with concurrent admits.
func (l *Ledger) Snapshots() (buckets []Snapshot, globalResetAt time.Time) {
	reply := make(chan snapshotsReply, 1)
	l.cmds <- &snapshotsCmd{reply: reply}
	r := <-reply
	return r.buckets, r.globalResetAt
}
