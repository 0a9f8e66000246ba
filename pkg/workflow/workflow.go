// Package workflow declares the external collaborator interface the master
// coordinator drives: the computation definition that generates jobs,
// applies results, and owns the blocking thread pool (§6.1).
package workflow

import (
	"context"

	"github.com/veles-go/master/pkg/types"
)

// JobStatus distinguishes the three outcomes generate_data_for_slave can
// produce. These must remain distinct sentinels (§9 Open Questions): a
// refusal and "not ready yet" drive different FSM edges and different
// dispatcher bookkeeping even though a naive boolean would conflate them.
type JobStatus int

const (
	// JobRefused corresponds to the workflow returning None: the worker's
	// job request is rejected outright.
	JobRefused JobStatus = iota
	// JobNotReady corresponds to a falsy-but-not-None return: the workflow
	// has nothing yet, try again after the next update.
	JobNotReady
	// JobReady carries an actual payload to ship to the worker.
	JobReady
)

// JobResult is the tri-state return of GenerateDataForSlave.
type JobResult struct {
	Status  JobStatus
	Payload []byte
}

// UpdateResult is the return of ApplyDataFromSlave.
type UpdateResult struct {
	Accepted bool
}

// Launcher is the subset of launcher functionality the dispatcher's respawn
// policy depends on (§4.5, §6.1). It is provided by the external
// collaborator; this package only declares the shape.
type Launcher interface {
	LogID() string
	LaunchRemotePrograms(ctx context.Context, host string, command []string, cwd, pythonPath string) error
	Stop()
}

// Engine is the workflow engine interface required from the external
// collaborator (§6.1). Every method that the source notes as
// "async-capable" takes a context and may block; callers dispatch it
// through ThreadPool and re-enter the event loop on completion (§5).
type Engine interface {
	// Checksum is the opaque identity string used to match worker and
	// master during handshake (§4.4).
	Checksum() string

	// IsRunning reports whether the workflow is still driving to
	// completion. Used by the registry on disconnect to choose between
	// respawn and NodeRecord erasure/shutdown (§4.5, §4.6).
	IsRunning() bool

	// ThreadPool returns the pool blocking workflow calls are dispatched
	// to, so they never run on the event-loop goroutine (§5).
	ThreadPool() *ThreadPool

	GenerateInitialDataForSlave(ctx context.Context, desc types.Desc) ([]byte, error)
	ApplyInitialDataFromSlave(ctx context.Context, desc types.Desc, payload []byte) error

	// GenerateDataForSlave returns a JobResult whose Status distinguishes
	// refusal from not-ready (§4.5, §9).
	GenerateDataForSlave(ctx context.Context, desc types.Desc) (JobResult, error)
	ApplyDataFromSlave(ctx context.Context, desc types.Desc, payload []byte) (UpdateResult, error)

	// DropSlave notifies the workflow that a worker was lost.
	DropSlave(ctx context.Context, desc types.Desc)

	Launcher() Launcher
}
