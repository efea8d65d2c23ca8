package mapper

import "context"

// loop is the single task runner of spec.md §5: every CDP event handler
// is posted here as a closure and runs strictly after every
// previously-posted closure has returned. Command handlers
// (HandleCommand) are not posted here; they run on the caller's
// goroutine, and their storage reads and writes are serialised only by
// each storage's own mutex. Grounded on
// chromedp's Browser.run/Target.run single-dispatcher-goroutine pattern,
// generalised from a fixed event switch to an arbitrary posted closure.
type loop struct {
	tasks chan func()
	done  chan struct{}
}

func newLoop() *loop {
	return &loop{
		tasks: make(chan func()),
		done:  make(chan struct{}),
	}
}

// run drains tasks until ctx is done, then closes done. Must be started
// exactly once, typically in its own goroutine.
func (l *loop) run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

// post runs fn on the task runner and blocks until it returns. Safe to
// call from any goroutine except from inside a closure already running
// on this loop, where it would deadlock; no code in this package does
// that.
func (l *loop) post(ctx context.Context, fn func()) {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case <-ctx.Done():
		return
	case l.tasks <- wrapped:
	}
	select {
	case <-ctx.Done():
	case <-done:
	}
}

// Done returns a channel closed once the loop has stopped running.
func (l *loop) Done() <-chan struct{} { return l.done }
