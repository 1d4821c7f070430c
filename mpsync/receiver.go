package mpsync

import (
	"context"
	"encoding/binary"
	"fmt"
)

// Receiver drives the inbound half of one remote peer's exchange:
// receive the particle count under TagCount, then (if non-zero) each
// field's payload under its field tag.
type Receiver struct {
	transport Transport
	peer      int
}

// NewReceiver builds a Receiver addressing peer over transport.
func NewReceiver(transport Transport, peer int) *Receiver {
	return &Receiver{transport: transport, peer: peer}
}

// RecvCount blocks for the peer's particle count, tag 0.
func (r *Receiver) RecvCount(ctx context.Context) (int, error) {
	data, err := r.transport.Recv(ctx, r.peer, TagCount)
	if err != nil {
		return 0, fmt.Errorf("mpsync: recv count from peer %d: %w", r.peer, err)
	}
	if len(data) != 4 {
		return 0, fmt.Errorf("mpsync: recv count from peer %d: got %d bytes, want 4", r.peer, len(data))
	}
	return int(binary.LittleEndian.Uint32(data)), nil
}

// RecvField blocks for one field's payload under its field tag and
// copies it into dst, which must already be sized to the expected
// byte count.
func (r *Receiver) RecvField(ctx context.Context, fieldIndex int, dst []byte) error {
	data, err := r.transport.Recv(ctx, r.peer, FieldTag(fieldIndex))
	if err != nil {
		return fmt.Errorf("mpsync: recv field %d from peer %d: %w", fieldIndex, r.peer, err)
	}
	if len(data) != len(dst) {
		return fmt.Errorf("mpsync: recv field %d from peer %d: got %d bytes, want %d", fieldIndex, r.peer, len(data), len(dst))
	}
	copy(dst, data)
	return nil
}
