// Package mpsync implements the message-passing transport used by the
// tools.Sync tool to exchange particle ownership across processes: ranks,
// tags, and the Sender/Receiver pair per remote peer.
//
// There is no real network or MPI binding in this environment (the same
// constraint that makes accel a software stand-in for a device), so
// Transport is the abstraction a real MPI/socket implementation would
// satisfy, and ChannelTransport is the in-process stand-in used by tests
// and by a single-process multi-rank run.
package mpsync

import (
	"context"
	"fmt"
	"sync"
)

// Tag distinguishes the kind of payload within one peer-to-peer
// exchange: tag 0 always carries the particle count, tags 1..F carry
// field payloads indexed by their position in the Sync tool's declared
// field list.
type Tag int

// TagCount is the reserved tag for the particle-count handshake that
// precedes every field payload.
const TagCount Tag = 0

// FieldTag returns the wire tag for the field at the given index.
func FieldTag(fieldIndex int) Tag { return Tag(fieldIndex + 1) }

// Transport is what Sender/Receiver need from the underlying
// message-passing layer: blocking send/receive of a byte payload to/from
// a numbered peer under a tag.
type Transport interface {
	Rank() int
	Size() int
	Send(ctx context.Context, peer int, tag Tag, data []byte) error
	Recv(ctx context.Context, peer int, tag Tag) ([]byte, error)
}

type linkKey struct {
	from, to int
	tag      Tag
}

// Hub wires together the per-rank ChannelTransport endpoints of a
// single-process multi-rank simulation. Each ordered (from, to, tag)
// triple gets its own buffered channel, so sends to different peers or
// under different tags never block each other.
type Hub struct {
	mu    sync.Mutex
	links map[linkKey]chan []byte
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{links: make(map[linkKey]chan []byte)}
}

func (h *Hub) channel(from, to int, tag Tag) chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	k := linkKey{from, to, tag}
	ch, ok := h.links[k]
	if !ok {
		ch = make(chan []byte, 1)
		h.links[k] = ch
	}
	return ch
}

// Rank returns the Transport endpoint for one rank in a size-rank group
// sharing this Hub.
func (h *Hub) Rank(rank, size int) *ChannelTransport {
	return &ChannelTransport{hub: h, rank: rank, size: size}
}

// ChannelTransport is a Transport backed by a shared Hub's Go channels,
// standing in for a real MPI/socket transport within one process.
type ChannelTransport struct {
	hub  *Hub
	rank int
	size int
}

func (t *ChannelTransport) Rank() int { return t.rank }
func (t *ChannelTransport) Size() int { return t.size }

// Send copies data and hands it to the channel for (rank -> peer, tag),
// blocking only if a previous send on the same link has not yet been
// received (buffered depth 1, matching a non-blocking send against an
// otherwise idle link).
func (t *ChannelTransport) Send(ctx context.Context, peer int, tag Tag, data []byte) error {
	if peer < 0 || peer >= t.size {
		return fmt.Errorf("mpsync: send: peer %d out of range [0,%d)", peer, t.size)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	ch := t.hub.channel(t.rank, peer, tag)
	select {
	case ch <- buf:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mpsync: send to peer %d tag %d: %w", peer, tag, ctx.Err())
	}
}

// Recv blocks until a payload arrives from peer under tag, or ctx is
// done.
func (t *ChannelTransport) Recv(ctx context.Context, peer int, tag Tag) ([]byte, error) {
	if peer < 0 || peer >= t.size {
		return nil, fmt.Errorf("mpsync: recv: peer %d out of range [0,%d)", peer, t.size)
	}
	ch := t.hub.channel(peer, t.rank, tag)
	select {
	case data := <-ch:
		return data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("mpsync: recv from peer %d tag %d: %w", peer, tag, ctx.Err())
	}
}
