package sidecar

import (
	"context"
	"errors"
	"sync"

	"github.com/Layr-Labs/attestation-sidecar/pkg/attestation"
)

const DefaultLoopbackBuffer = 1024

// ErrQuorumUnreachable is returned by Run when the partial network cannot deliver enough
// partials to recover a group signature.
var ErrQuorumUnreachable = errors.New("quorum unreachable")

// PartialNetwork exchanges signed partials between validators.
type PartialNetwork interface {
	// Broadcast sends a partial to every other validator. It blocks until the partial is
	// handed off or ctx is cancelled.
	Broadcast(ctx context.Context, p attestation.SignedPartial) error
	// Partials delivers partials received from other validators.
	Partials() <-chan attestation.SignedPartial
}

// LoopbackHub connects sidecars running in the same process. A hub with a single member
// is the network of a standalone validator.
type LoopbackHub struct {
	mu     sync.RWMutex
	peers  []*LoopbackNetwork
	buffer int
}

func NewLoopbackHub(buffer int) *LoopbackHub {
	if buffer <= 0 {
		buffer = DefaultLoopbackBuffer
	}
	return &LoopbackHub{buffer: buffer}
}

// Join adds a member to the hub and returns its network endpoint.
func (h *LoopbackHub) Join() *LoopbackNetwork {
	n := &LoopbackNetwork{
		hub:   h,
		inbox: make(chan attestation.SignedPartial, h.buffer),
	}
	h.mu.Lock()
	h.peers = append(h.peers, n)
	h.mu.Unlock()
	return n
}

func (h *LoopbackHub) members() []*LoopbackNetwork {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*LoopbackNetwork, len(h.peers))
	copy(out, h.peers)
	return out
}

type LoopbackNetwork struct {
	hub   *LoopbackHub
	inbox chan attestation.SignedPartial
}

func (n *LoopbackNetwork) Broadcast(ctx context.Context, p attestation.SignedPartial) error {
	for _, peer := range n.hub.members() {
		if peer == n {
			continue
		}
		select {
		case peer.inbox <- p:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (n *LoopbackNetwork) Partials() <-chan attestation.SignedPartial {
	return n.inbox
}
