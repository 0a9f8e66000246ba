// Package coordinator provides the process-wide error sink every
// long-running goroutine funnels unexpected failures through, rather than
// terminating the process or the session they happened on (§7: "workflow
// callback failures are surfaced through a single error sink that logs
// and continues").
package coordinator

import (
	"github.com/veles-go/master/pkg/log"
)

// ErrSink is a buffered channel drained by a single logging goroutine. It
// never blocks a caller beyond its buffer: a full sink drops the overflow
// rather than applying backpressure to the workflow engine. A drop is
// counted only when the drain loop is free to take the signal at that
// moment, so the dropped_total it logs can undercount.
type ErrSink struct {
	ch       chan sinkEntry
	dropped  chan struct{}
	dropSeen int
}

type sinkEntry struct {
	component string
	err       error
}

// NewErrSink creates an ErrSink with the given buffer size and starts its
// drain loop.
func NewErrSink(buffer int) *ErrSink {
	if buffer <= 0 {
		buffer = 64
	}
	s := &ErrSink{ch: make(chan sinkEntry, buffer), dropped: make(chan struct{})}
	go s.drain()
	return s
}

// Report enqueues err, tagged with the reporting component, for logging.
// Never blocks: if the buffer is full the error is dropped (and counted
// if the drain loop is ready to receive the drop signal).
func (s *ErrSink) Report(component string, err error) {
	if err == nil {
		return
	}
	select {
	case s.ch <- sinkEntry{component: component, err: err}:
	default:
		select {
		case s.dropped <- struct{}{}:
		default:
		}
	}
}

// Close stops the drain loop. It returns at once; entries already enqueued
// are still logged by the drain loop, which exits once they are drained.
func (s *ErrSink) Close() {
	close(s.ch)
}

func (s *ErrSink) drain() {
	logger := log.WithComponent("errsink")
	for {
		select {
		case entry, ok := <-s.ch:
			if !ok {
				return
			}
			logger.Error().Err(entry.err).Str("source", entry.component).Msg("unhandled async error")
		case <-s.dropped:
			s.dropSeen++
			logger.Warn().Int("dropped_total", s.dropSeen).Msg("error sink buffer full, dropping report")
		}
	}
}
