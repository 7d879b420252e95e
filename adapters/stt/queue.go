package stt

import (
	"context"
	"errors"
	"sync"
)

var errStreamClosed = errors.New("stream is closed for sending")

// chunkQueue is an unbounded FIFO of audio payloads. Pushing never blocks,
// so a slow provider cannot stall the client read loop.
type chunkQueue struct {
	mu     sync.Mutex
	items  [][]byte
	closed bool
	notify chan struct{}
}

func newChunkQueue() *chunkQueue {
	return &chunkQueue{notify: make(chan struct{}, 1)}
}

func (q *chunkQueue) push(data []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errStreamClosed
	}
	q.items = append(q.items, data)
	q.mu.Unlock()

	q.signal()
	return nil
}

// close marks the end of input; pop drains what is left and then reports false
func (q *chunkQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.signal()
}

func (q *chunkQueue) pop(ctx context.Context) ([]byte, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			data := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return data, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, false
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.notify:
		}
	}
}

func (q *chunkQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
