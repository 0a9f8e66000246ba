package router

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	f := &Frame{RoutingToken: "r1", NodeID: "n1", Command: CommandJob, Payload: []byte("payload")}
	require.NoError(t, writeFrame(&buf, f))

	got, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestWriteReadFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	f := &Frame{RoutingToken: "r1", NodeID: "n1", Command: CommandJob, Payload: nil}
	require.NoError(t, writeFrame(&buf, f))

	got, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, f.NodeID, got.NodeID)
	assert.Empty(t, got.Payload)
}

func TestReadFrameReturnsEOFBetweenFrames(t *testing.T) {
	_, err := readFrame(&bytes.Buffer{})
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameMidFrameErrorIsWrapped(t *testing.T) {
	var buf bytes.Buffer
	// Cut the last two bytes off a valid frame: the one payload byte and the
	// last byte of the payload's length prefix, so the frame ends mid-field.
	f := &Frame{RoutingToken: "r1", NodeID: "n1", Command: CommandJob, Payload: []byte("x")}
	require.NoError(t, writeFrame(&buf, f))
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-2])

	_, err := readFrame(truncated)
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}
