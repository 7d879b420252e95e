package stt

import (
	"sync"
	"sync/atomic"

	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/domain/repositories"
)

const eventBufferSize = 64

// eventEmitter is the single writer of a stream's event channel. It closes
// the channel after the first terminal event and drops everything after
// that or after shutdown.
type eventEmitter struct {
	mu   sync.Mutex
	ch   chan repositories.StreamEvent
	done bool
	stop chan struct{}
	once sync.Once

	// closed mirrors done for readers that must not wait behind a blocked emit
	closed atomic.Bool
}

func newEventEmitter() *eventEmitter {
	return &eventEmitter{
		ch:   make(chan repositories.StreamEvent, eventBufferSize),
		stop: make(chan struct{}),
	}
}

func (e *eventEmitter) events() <-chan repositories.StreamEvent {
	return e.ch
}

func (e *eventEmitter) emit(ev repositories.StreamEvent) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done {
		return false
	}

	select {
	case e.ch <- ev:
	case <-e.stop:
		e.finishLocked()
		return false
	}

	if ev.Kind.IsTerminal() {
		e.finishLocked()
	}
	return true
}

func (e *eventEmitter) transcript(ev entities.TranscriptEvent) bool {
	return e.emit(repositories.StreamEvent{Kind: repositories.StreamEventTranscript, Transcript: ev})
}

func (e *eventEmitter) warning(message string) bool {
	return e.emit(repositories.StreamEvent{Kind: repositories.StreamEventWarning, Message: message})
}

func (e *eventEmitter) end() bool {
	return e.emit(repositories.StreamEvent{Kind: repositories.StreamEventEnd})
}

func (e *eventEmitter) fail(err error) bool {
	return e.emit(repositories.StreamEvent{Kind: repositories.StreamEventError, Err: err, Message: entities.ClientMessage(err)})
}

// terminated reports whether a terminal event was delivered or the emitter was shut down
func (e *eventEmitter) terminated() bool {
	return e.closed.Load()
}

// shutdown unblocks any pending emit and closes the channel without a terminal event
func (e *eventEmitter) shutdown() {
	e.once.Do(func() { close(e.stop) })

	e.mu.Lock()
	defer e.mu.Unlock()
	e.finishLocked()
}

func (e *eventEmitter) finishLocked() {
	if e.done {
		return
	}
	e.done = true
	e.closed.Store(true)
	close(e.ch)
}
