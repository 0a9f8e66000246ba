package router

import (
	"encoding/binary"
	"fmt"
	"io"
)

// writeFrame encodes f as four length-prefixed fields on w, used by all
// three transports (the inproc transport's net.Pipe connections carry the
// same encoding as the ipc and tcp sockets).
func writeFrame(w io.Writer, f *Frame) error {
	fields := [][]byte{
		[]byte(f.RoutingToken),
		[]byte(f.NodeID),
		[]byte(f.Command),
		f.Payload,
	}
	for _, field := range fields {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(field)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return fmt.Errorf("router: write frame length: %w", err)
		}
		if len(field) > 0 {
			if _, err := w.Write(field); err != nil {
				return fmt.Errorf("router: write frame field: %w", err)
			}
		}
	}
	return nil
}

// readFrame decodes one Frame from r. Returns io.EOF when the peer closed
// the connection cleanly between frames.
func readFrame(r io.Reader) (*Frame, error) {
	fields := make([][]byte, 4)
	for i := range fields {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if i == 0 {
				return nil, err // propagate io.EOF untouched between frames
			}
			return nil, fmt.Errorf("router: read frame length: %w", err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		buf := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, fmt.Errorf("router: read frame field: %w", err)
			}
		}
		fields[i] = buf
	}
	return &Frame{
		RoutingToken: string(fields[0]),
		NodeID:       string(fields[1]),
		Command:      Command(fields[2]),
		Payload:      fields[3],
	}, nil
}
