package mpsync

import (
	"context"
	"encoding/binary"
	"fmt"
)

// Sender drives the outbound half of one remote peer's exchange: send
// the particle count under TagCount, then (if non-zero) the field
// payload under its field tag.
type Sender struct {
	transport Transport
	peer      int
}

// NewSender builds a Sender addressing peer over transport.
func NewSender(transport Transport, peer int) *Sender {
	return &Sender{transport: transport, peer: peer}
}

// SendCount sends the particle count owed to the peer, tag 0.
func (s *Sender) SendCount(ctx context.Context, count int) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(count))
	if err := s.transport.Send(ctx, s.peer, TagCount, buf[:]); err != nil {
		return fmt.Errorf("mpsync: send count to peer %d: %w", s.peer, err)
	}
	return nil
}

// SendField sends one field's payload under its field tag. Callers skip
// this entirely when the preceding SendCount was zero.
func (s *Sender) SendField(ctx context.Context, fieldIndex int, payload []byte) error {
	if err := s.transport.Send(ctx, s.peer, FieldTag(fieldIndex), payload); err != nil {
		return fmt.Errorf("mpsync: send field %d to peer %d: %w", fieldIndex, s.peer, err)
	}
	return nil
}
