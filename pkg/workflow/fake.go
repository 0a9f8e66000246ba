package workflow

import (
	"context"
	"sync"

	"github.com/veles-go/master/pkg/types"
)

// FakeLauncher is a minimal in-memory Launcher for tests.
type FakeLauncher struct {
	mu       sync.Mutex
	LogIDVal string
	Launches []string
	Stopped  bool
}

func (f *FakeLauncher) LogID() string { return f.LogIDVal }

func (f *FakeLauncher) LaunchRemotePrograms(_ context.Context, host string, command []string, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Launches = append(f.Launches, host)
	_ = command
	return nil
}

func (f *FakeLauncher) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Stopped = true
}

// Fake is a minimal in-memory Engine for tests, following the teacher's
// convention of small in-package fakes over a mocking framework
// (pkg/metrics/health_test.go resets package state directly rather than
// mocking via an interface library).
type Fake struct {
	mu sync.Mutex

	ChecksumVal string
	Running     bool
	Pool        *ThreadPool

	// NextJob is consumed (and removed) by the next GenerateDataForSlave
	// call; when empty, JobNotReady is returned.
	NextJob  []JobResult
	Accepted bool

	Dropped []types.NodeId
	Applied [][]byte
	Initial map[types.NodeId][]byte

	launcher *FakeLauncher
}

// NewFake creates a Fake engine with a bounded thread pool and a
// FakeLauncher wired in.
func NewFake(checksum string) *Fake {
	return &Fake{
		ChecksumVal: checksum,
		Running:     true,
		Pool:        NewThreadPool(4),
		Accepted:    true,
		Initial:     map[types.NodeId][]byte{},
		launcher:    &FakeLauncher{LogIDVal: "fake-log"},
	}
}

func (f *Fake) Checksum() string        { return f.ChecksumVal }
func (f *Fake) IsRunning() bool         { return f.Running }
func (f *Fake) ThreadPool() *ThreadPool { return f.Pool }
func (f *Fake) Launcher() Launcher      { return f.launcher }

func (f *Fake) GenerateInitialDataForSlave(_ context.Context, desc types.Desc) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Initial[desc.ID], nil
}

func (f *Fake) ApplyInitialDataFromSlave(_ context.Context, _ types.Desc, _ []byte) error {
	return nil
}

// QueueJob arranges for the next N GenerateDataForSlave calls to return the
// given results in order.
func (f *Fake) QueueJob(results ...JobResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.NextJob = append(f.NextJob, results...)
}

func (f *Fake) GenerateDataForSlave(_ context.Context, _ types.Desc) (JobResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.NextJob) == 0 {
		return JobResult{Status: JobNotReady}, nil
	}
	r := f.NextJob[0]
	f.NextJob = f.NextJob[1:]
	return r, nil
}

func (f *Fake) ApplyDataFromSlave(_ context.Context, _ types.Desc, payload []byte) (UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Applied = append(f.Applied, payload)
	return UpdateResult{Accepted: f.Accepted}, nil
}

func (f *Fake) DropSlave(_ context.Context, desc types.Desc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Dropped = append(f.Dropped, desc.ID)
}
