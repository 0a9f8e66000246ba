package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/veles-go/master/pkg/log"
	"github.com/veles-go/master/pkg/metrics"
	"github.com/veles-go/master/pkg/types"
	"github.com/veles-go/master/pkg/workflow"
)

// Respawner schedules respawn attempts for workers that disconnected while
// the workflow is still running and respawn is enabled (§4.5 "Respawn").
// It is driven by the registry on session loss, not by the data channel.
type Respawner struct {
	launcher workflow.Launcher
	logger   zerolog.Logger

	mu      sync.Mutex
	efforts map[types.NodeId]int
}

// NewRespawner creates a Respawner delegating launches to launcher.
func NewRespawner(launcher workflow.Launcher) *Respawner {
	return &Respawner{
		launcher: launcher,
		logger:   log.WithComponent("respawn"),
		efforts:  make(map[types.NodeId]int),
	}
}

// Schedule arms the first respawn attempt for node, 1 second out, per §4.5.
// node.Launch must be non-nil (the registry only retains it when respawn
// is enabled, per §9 "Respawn metadata").
func (r *Respawner) Schedule(node *types.NodeRecord) {
	if node.Launch == nil {
		return
	}
	time.AfterFunc(1*time.Second, func() { r.attempt(node) })
}

func (r *Respawner) attempt(node *types.NodeRecord) {
	command := reconstructCommand(node.Launch)
	err := r.launcher.LaunchRemotePrograms(context.Background(), node.Launch.Host, command, node.Launch.Cwd, node.Launch.PythonPath)

	if err != nil {
		metrics.RespawnAttemptsTotal.WithLabelValues("failure").Inc()
		r.logger.Warn().Err(err).Str("node_id", node.ID).Msg("respawn attempt failed, backing off")

		effort := r.nextEffort(node.ID)
		backoff := time.Duration(1<<uint(effort)) * time.Second
		time.AfterFunc(backoff, func() { r.attempt(node) })
		return
	}

	metrics.RespawnAttemptsTotal.WithLabelValues("success").Inc()
	r.resetEffort(node.ID)
}

func (r *Respawner) nextEffort(id types.NodeId) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.efforts[id]
	if e == 0 {
		e = 1
	} else {
		e++
	}
	r.efforts[id] = e
	return e
}

func (r *Respawner) resetEffort(id types.NodeId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.efforts, id)
}

// reconstructCommand rebuilds the worker's launch command line, inserting
// -b (background) if the retained argv doesn't already carry a background
// flag (§4.5: "inserting -b/--background if absent").
func reconstructCommand(lm *types.LaunchMetadata) []string {
	argv := append([]string{}, lm.Argv...)
	for _, a := range argv {
		if a == "-b" || a == "--background" {
			return append([]string{lm.Executable}, argv...)
		}
	}
	argv = append(argv, "-b")
	return append([]string{lm.Executable}, argv...)
}
