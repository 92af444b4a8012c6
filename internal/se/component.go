package se

import (
	"context"
	"fmt"
	"sync"

	"github.com/chtugha/callfabric/pkg/telemetry"
)

var bgCtx = context.Background()

// Component implements control.Handler, managing the set of active
// calls on this SIP Endpoint process.
type Component struct {
	mu    sync.Mutex
	calls map[int]*Call

	baseRTPPort int
	log         Logger
	tel         *telemetry.Telemetry

	// RemoteEndpoint resolves a call id to the caller's RTP endpoint
	// address; SE's SIP signaling layer (out of scope here) supplies it.
	RemoteEndpoint func(callID int) (string, error)
}

// NewComponent builds an SE component. baseRTPPort is the local RTP port
// offset calls bind to (SE's own media port allocation scheme, distinct
// from the fixed 9001+C/9002+C discipline used between IAP/OAP).
func NewComponent(baseRTPPort int, log Logger, tel *telemetry.Telemetry) *Component {
	return &Component{
		calls:       make(map[int]*Call),
		baseRTPPort: baseRTPPort,
		log:         log,
		tel:         tel,
	}
}

func (c *Component) Activate(callID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.calls[callID]; exists {
		return fmt.Errorf("se: call %d already active", callID)
	}
	if c.RemoteEndpoint == nil {
		return fmt.Errorf("se: no remote endpoint resolver configured")
	}

	remote, err := c.RemoteEndpoint(callID)
	if err != nil {
		return fmt.Errorf("se: resolve remote endpoint for call %d: %w", callID, err)
	}

	local := fmt.Sprintf("0.0.0.0:%d", c.baseRTPPort+callID)
	call, err := NewCall(callID, local, remote, uint32(callID), c.log, c.tel)
	if err != nil {
		return err
	}

	c.calls[callID] = call
	if c.tel != nil {
		c.tel.ActiveCalls.Add(bgCtx, 1)
	}
	return nil
}

func (c *Component) Deactivate(callID int) error {
	c.mu.Lock()
	call, exists := c.calls[callID]
	if exists {
		delete(c.calls, callID)
	}
	c.mu.Unlock()

	if !exists {
		return fmt.Errorf("se: call %d not active", callID)
	}

	call.Stop()
	if c.tel != nil {
		c.tel.ActiveCalls.Add(bgCtx, -1)
	}
	return nil
}

func (c *Component) Shutdown() error {
	c.mu.Lock()
	calls := make([]*Call, 0, len(c.calls))
	for _, call := range c.calls {
		calls = append(calls, call)
	}
	c.calls = make(map[int]*Call)
	c.mu.Unlock()

	for _, call := range calls {
		call.Stop()
	}
	return nil
}
