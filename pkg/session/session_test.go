package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordUpdateAppendsElapsedDuration(t *testing.T) {
	s := NewSession("n1", true)
	t0 := time.Now()

	s.RecordUpdate(t0) // no prior submit: ignored
	assert.Empty(t, s.History())

	s.RecordJobSubmit(t0)
	s.RecordUpdate(t0.Add(5 * time.Second))

	require := assert.New(t)
	require.Len(s.History(), 1)
	require.Equal(5*time.Second, s.History()[0])
}

func TestRecordUpdateHistoryIsBounded(t *testing.T) {
	s := NewSession("n1", true)
	base := time.Now()

	for i := 0; i < historyLimit+10; i++ {
		s.RecordJobSubmit(base)
		s.RecordUpdate(base.Add(time.Duration(i) * time.Second))
	}

	assert.Len(t, s.History(), historyLimit)
	// Oldest samples are dropped; the last recorded duration survives.
	last := s.History()[len(s.History())-1]
	assert.Equal(t, time.Duration(historyLimit+9)*time.Second, last)
}

func TestNewSessionDefaults(t *testing.T) {
	s := NewSession("n1", true)
	assert.Equal(t, StateInit, s.FSM.State())
	assert.True(t, s.DropOnTimeout)
	assert.False(t, s.NotASlave)
	assert.Equal(t, 0, s.Balance)
}

func TestNewSessionDropOnTimeoutDisabled(t *testing.T) {
	s := NewSession("n1", false)
	assert.False(t, s.DropOnTimeout)
}
