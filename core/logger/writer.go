package logger

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

const writerFlushEvery = 250 * time.Millisecond

// batchWriter collects log lines off the caller's goroutine and writes them to
// every sink in batches, at most writerFlushEvery apart.
type batchWriter struct {
	lines chan []byte
	flush chan chan error
	done  chan struct{}
	close sync.Once

	sinks   []io.Writer
	maxSize int

	mu  sync.Mutex
	err error
}

func newBatchWriter(sinks []io.Writer, maxSize int) *batchWriter {
	if maxSize <= 0 {
		maxSize = 64 * 1024
	}
	live := sinks[:0:0]
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	w := &batchWriter{
		lines:   make(chan []byte, 256),
		flush:   make(chan chan error),
		done:    make(chan struct{}),
		sinks:   live,
		maxSize: maxSize,
	}
	go w.run()
	return w
}

func (w *batchWriter) run() {
	defer close(w.done)
	var buf bytes.Buffer
	tick := time.NewTicker(writerFlushEvery)
	defer tick.Stop()

	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				w.record(w.drain(&buf))
				return
			}
			buf.Write(line)
			if buf.Len() >= w.maxSize {
				w.record(w.drain(&buf))
			}
		case <-tick.C:
			w.record(w.drain(&buf))
		case ack := <-w.flush:
			ack <- w.drain(&buf)
		}
	}
}

// drain writes the pending batch to every sink, continuing past failed ones.
func (w *batchWriter) drain(buf *bytes.Buffer) error {
	if buf.Len() == 0 {
		return nil
	}
	var errs []error
	for _, s := range w.sinks {
		if _, err := s.Write(buf.Bytes()); err != nil {
			errs = append(errs, err)
		}
	}
	buf.Reset()
	return errors.Join(errs...)
}

// Write queues a copy of p. It blocks when the queue is full rather than drop lines.
func (w *batchWriter) Write(p []byte) error {
	if err := w.failure(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	w.lines <- bytes.Clone(p)
	return nil
}

// Flush writes everything queued so far.
func (w *batchWriter) Flush() error {
	ack := make(chan error, 1)
	select {
	case w.flush <- ack:
		return <-ack
	case <-w.done:
		return w.failure()
	}
}

// Close drains the queue, stops the writer and returns the first write error.
func (w *batchWriter) Close() error {
	w.close.Do(func() { close(w.lines) })
	<-w.done
	return w.failure()
}

func (w *batchWriter) record(err error) {
	if err == nil {
		return
	}
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
}

func (w *batchWriter) failure() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}
