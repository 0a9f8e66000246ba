/*
Package types defines the data structures shared across the master
coordinator: worker node identity, the respawn-launch metadata retained
per node, and the small descriptors passed to the workflow engine.

# Architecture

The types package is the foundation of the coordinator's data model. It
defines:

  - Worker identity (NodeId) and externally visible node state
  - The registry's per-node record, keyed by NodeId and reused across
    reconnects of the same worker
  - Respawn launch metadata, retained only when respawn is enabled
  - The immutable descriptor handed to the workflow engine, a narrower
    view of NodeRecord that never exposes mutable registry state

# Core Types

Node Identity:
  - NodeId: opaque, UUID-like worker identity
  - NodeState: waiting, working, or offline

Registry Record:
  - NodeRecord: the registry's mutable per-node record (power, host,
    state, job count, cached initial data, launch metadata, last-seen
    and last-job timestamps)
  - LaunchMetadata: executable, argv, cwd, PYTHONPATH, and host a worker
    was launched with, kept for respawn

Workflow View:
  - Desc: the immutable (id, mid, pid, power, host, state) tuple the
    workflow engine sees; DescOf snapshots a NodeRecord into one

# Integration Points

This package integrates with:

  - pkg/registry: owns and mutates NodeRecord as the Master Registry
  - pkg/dispatcher: reads Desc to hand the workflow engine read-only
    worker context without exposing mutable registry state
  - pkg/session: drives the per-connection FSM that keeps NodeRecord.State
    in sync with the wire protocol
  - pkg/dispatcher (Respawner): consumes LaunchMetadata to rebuild the
    command that pkg/launcher runs on respawn
  - pkg/workflow: the external collaborator interface both NodeRecord and
    Desc exist to serve

# Thread Safety

NodeRecord is not safe for concurrent mutation; pkg/registry serializes
access to it behind its own lock. Desc is a value snapshot and safe to
read concurrently once taken.
*/
package types
