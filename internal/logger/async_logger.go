package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/chordtoll/posinvck-go/clock"
)

// dropTimeout is how long Write waits for room in the queue before giving up
// and dropping a message when the buffer is full.
const dropTimeout = 5 * time.Millisecond

// AsyncLogger decouples slow sink writes (log rotation, disk I/O) from the
// operation dispatcher's critical section: a caller that logs while holding
// the shadow model's lock must never block on sink I/O for long. Writes are queued on a
// channel and drained by a single background goroutine in submission order;
// a write against a full queue waits briefly (via clock, so tests can
// control the wait deterministically) before dropping the message.
type AsyncLogger struct {
	sink   io.Writer
	queue  chan []byte
	done   chan struct{}
	once   sync.Once
	closed bool
	mu     sync.Mutex

	clock       clock.Clock
	dropTimeout time.Duration
}

// NewAsyncLogger starts a background writer draining into sink, buffering up
// to bufferSize pending writes before new writes wait up to dropTimeout for
// room and are then dropped (with a warning to stderr).
func NewAsyncLogger(sink io.Writer, bufferSize int) *AsyncLogger {
	return newAsyncLogger(sink, bufferSize, clock.RealClock{}, dropTimeout)
}

func newAsyncLogger(sink io.Writer, bufferSize int, clk clock.Clock, timeout time.Duration) *AsyncLogger {
	a := &AsyncLogger{
		sink:        sink,
		queue:       make(chan []byte, bufferSize),
		done:        make(chan struct{}),
		clock:       clk,
		dropTimeout: timeout,
	}
	go a.run()
	return a
}

func (a *AsyncLogger) run() {
	defer close(a.done)
	for msg := range a.queue {
		a.sink.Write(msg)
	}
}

// Write implements io.Writer. If the queue is full it waits up to
// dropTimeout for room before dropping the message with a one-line warning
// to stderr, rather than blocking the caller indefinitely.
func (a *AsyncLogger) Write(p []byte) (int, error) {
	msg := append([]byte(nil), p...)

	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return 0, fmt.Errorf("asynclogger: write after close")
	}

	select {
	case a.queue <- msg:
		return len(p), nil
	default:
	}

	select {
	case a.queue <- msg:
	case <-a.clock.After(a.dropTimeout):
		fmt.Fprintln(os.Stderr, "asynclogger: log buffer is full, dropping message.")
	}
	return len(p), nil
}

// Close drains any queued messages and stops the background goroutine.
// Calls after the first do nothing and return nil.
func (a *AsyncLogger) Close() error {
	var err error
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		close(a.queue)
		<-a.done
		if closer, ok := a.sink.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return err
}
