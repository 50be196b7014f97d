package bridge

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
)

const readChunkSize = 32 * 1024

// cappedBuffer keeps the first limit bytes written and counts the rest.
type cappedBuffer struct {
	buf     bytes.Buffer
	limit   int
	dropped int64
}

func (c *cappedBuffer) write(p []byte) {
	if c.limit <= 0 {
		c.buf.Write(p)
		return
	}
	room := c.limit - c.buf.Len()
	if room >= len(p) {
		c.buf.Write(p)
		return
	}
	if room > 0 {
		c.buf.Write(p[:room])
	}
	c.dropped += int64(len(p) - max(room, 0))
}

// aggregator drains a worker's stdout and stderr concurrently. The buffers
// are only read after wait returns, i.e. after both streams reached EOF.
type aggregator struct {
	stdout cappedBuffer
	stderr cappedBuffer

	wg      sync.WaitGroup
	closers []io.Closer

	mu      sync.Mutex
	readErr error
}

func newAggregator(stdout, stderr io.ReadCloser, stdoutLimit, stderrLimit int) *aggregator {
	a := &aggregator{
		stdout:  cappedBuffer{limit: stdoutLimit},
		stderr:  cappedBuffer{limit: stderrLimit},
		closers: []io.Closer{stdout, stderr},
	}
	a.wg.Add(2)
	go a.collect(stdout, &a.stdout)
	go a.collect(stderr, &a.stderr)
	return a
}

func (a *aggregator) collect(r io.Reader, dst *cappedBuffer) {
	defer a.wg.Done()
	chunk := make([]byte, readChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			dst.write(chunk[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				a.mu.Lock()
				a.readErr = err
				a.mu.Unlock()
			}
			return
		}
	}
}

// wait blocks until both streams are closed.
func (a *aggregator) wait() { a.wg.Wait() }

// abort closes the read ends so collectors return even if a stray process
// still holds the write ends open.
func (a *aggregator) abort() {
	for _, c := range a.closers {
		_ = c.Close()
	}
}

func (a *aggregator) err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readErr
}
