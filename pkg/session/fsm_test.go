package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veles-go/master/pkg/types"
)

func TestFSMHappyPathTransitions(t *testing.T) {
	f := NewFSM()
	assert.Equal(t, StateInit, f.State())

	node, err := f.Apply(EventConnect)
	assert.NoError(t, err)
	assert.Equal(t, StateWait, f.State())
	assert.Equal(t, types.NodeState(""), node) // connect has no entry action

	node, err = f.Apply(EventIdentify)
	assert.NoError(t, err)
	assert.Equal(t, StateWork, f.State())
	assert.Equal(t, types.NodeWaiting, node)

	node, err = f.Apply(EventRequestJob)
	assert.NoError(t, err)
	assert.Equal(t, StateGettingJob, f.State())
	assert.Equal(t, types.NodeWaiting, node)

	node, err = f.Apply(EventObtainJob)
	assert.NoError(t, err)
	assert.Equal(t, StateWork, f.State())
	assert.Equal(t, types.NodeWorking, node)
}

func TestFSMInvalidTransitionReturnsError(t *testing.T) {
	f := NewFSM()
	_, err := f.Apply(EventObtainJob) // can't obtain a job before connecting
	assert.Error(t, err)
	assert.Equal(t, StateInit, f.State())
}

func TestFSMDropIsValidFromAnyStateAndIdempotent(t *testing.T) {
	for _, start := range []State{StateInit, StateWait, StateWork, StateGettingJob, StateIdle} {
		f := &FSM{state: start}
		node, err := f.Apply(EventDrop)
		assert.NoError(t, err)
		assert.Equal(t, types.NodeOffline, node)
		assert.Equal(t, StateInit, f.State())

		// Idempotent: dropping again from the post-drop state is still fine.
		node, err = f.Apply(EventDrop)
		assert.NoError(t, err)
		assert.Equal(t, types.NodeOffline, node)
	}
}

func TestFSMIdleFromWorkThenRequestJobFromIdle(t *testing.T) {
	f := NewFSM()
	f.Apply(EventConnect)
	f.Apply(EventIdentify)

	node, err := f.Apply(EventIdle)
	assert.NoError(t, err)
	assert.Equal(t, StateIdle, f.State())
	assert.Equal(t, types.NodeWaiting, node)

	// request_job is also valid from Idle, returning to GettingJob.
	_, err = f.Apply(EventRequestJob)
	assert.NoError(t, err)
	assert.Equal(t, StateGettingJob, f.State())
}
