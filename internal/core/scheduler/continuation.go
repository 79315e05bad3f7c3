package scheduler

import "sync"

// Continuation is the offloaded half of a hybrid system update. The manager
// runs it on the worker pool after the main-thread portion returns and joins
// it before the frame's message drain.
type Continuation struct {
	run  func() error
	once sync.Once
	done chan struct{}
	err  error
}

// NewContinuation wraps the offloaded work. run executes at most once.
func NewContinuation(run func() error) *Continuation {
	return &Continuation{
		run:  run,
		done: make(chan struct{}),
	}
}

// complete executes the work, capturing a panic as the result so the caller
// joining the continuation sees a recovered failure instead of a crash.
func (c *Continuation) complete() {
	c.once.Do(func() {
		defer close(c.done)
		defer func() {
			if r := recover(); r != nil {
				c.err = &panicError{value: r}
			}
		}()
		c.err = c.run()
	})
}

// Join blocks until the offloaded work finished and returns its result.
func (c *Continuation) Join() error {
	<-c.done
	return c.err
}
