package coordinator

import (
	"errors"
	"testing"
	"time"
)

func TestReportDrainsWithoutBlocking(t *testing.T) {
	s := NewErrSink(4)
	defer s.Close()

	for i := 0; i < 4; i++ {
		s.Report("test", errors.New("boom"))
	}

	done := make(chan struct{})
	go func() {
		s.Report("test", errors.New("one more"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Report blocked despite a drain goroutine running")
	}
}

func TestReportIgnoresNilError(t *testing.T) {
	s := NewErrSink(1)
	defer s.Close()

	s.Report("test", nil)
	// Buffer never filled, so a subsequent real report must still be
	// accepted without being treated as an overflow.
	done := make(chan struct{})
	go func() {
		s.Report("test", errors.New("real"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Report blocked on a nil-error no-op")
	}
}

func TestCloseStopsDrainLoop(t *testing.T) {
	s := NewErrSink(1)
	s.Report("test", errors.New("before close"))
	s.Close()

	// Draining a closed channel's final buffered entry must not panic or
	// leave the goroutine running past the close.
	time.Sleep(10 * time.Millisecond)
}
