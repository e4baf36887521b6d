// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import (
	"sync"
	"time"
)

// Reactor is the single-threaded cooperative event loop every session
// mutation runs on. Timer callbacks and collaborator completions are posted
// back into the loop, so state observes no interleaving within a task.
type Reactor struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
}

func NewReactor() *Reactor {
	return &Reactor{
		tasks: make(chan func(), 1024),
		done:  make(chan struct{}),
	}
}

// Run drains the task queue until Stop is called. It must be invoked from
// exactly one goroutine.
func (r *Reactor) Run() {
	for {
		select {
		case task := <-r.tasks:
			task()
		case <-r.done:
			return
		}
	}
}

// Stop terminates the loop. Queued tasks are dropped.
func (r *Reactor) Stop() {
	r.once.Do(func() {
		close(r.done)
	})
}

// RunInLoop queues a task for execution on the loop.
func (r *Reactor) RunInLoop(task func()) {
	select {
	case r.tasks <- task:
	case <-r.done:
	}
}

// RunAfterDelay schedules a task onto the loop after the delay. The returned
// timer can cancel delivery; a task that fires after Stop is dropped.
func (r *Reactor) RunAfterDelay(delay time.Duration, task func()) *time.Timer {
	return time.AfterFunc(delay, func() {
		r.RunInLoop(task)
	})
}
