package node

import (
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// outbound is a node's single forwarding worker. Tasks run one at a time in
// submission order; a panicking task is logged and does not stop the worker.
type outbound struct {
	tasks chan func()
	quit  chan struct{}
	done  chan struct{}
	log   *zap.Logger
}

func newOutbound(queue int, log *zap.Logger) *outbound {
	o := &outbound{
		tasks: make(chan func(), queue),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   log,
	}
	go o.run()
	return o
}

func (o *outbound) run() {
	defer close(o.done)
	for {
		select {
		case <-o.quit:
			o.drain()
			return
		case task := <-o.tasks:
			o.exec(task)
		}
	}
}

// drain runs whatever was queued before stop.
func (o *outbound) drain() {
	for {
		select {
		case task := <-o.tasks:
			o.exec(task)
		default:
			return
		}
	}
}

func (o *outbound) exec(task func()) {
	if err := o.safely(task); err != nil {
		o.log.Error("outbound task failed", zap.Error(err))
	}
}

func (o *outbound) safely(task func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	task()
	return nil
}

// submit queues task, blocking while the queue is full. It reports false once
// the worker has stopped.
func (o *outbound) submit(task func()) bool {
	select {
	case <-o.quit:
		return false
	default:
	}
	select {
	case o.tasks <- task:
		return true
	case <-o.quit:
		return false
	}
}

// stop refuses new tasks and returns once every queued task has run.
func (o *outbound) stop() {
	close(o.quit)
	<-o.done
}
