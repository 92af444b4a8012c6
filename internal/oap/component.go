package oap

import (
	"fmt"
	"sync"

	"github.com/chtugha/callfabric/pkg/telemetry"
)

// Component implements control.Handler, managing active calls on this
// OAP process.
type Component struct {
	mu    sync.Mutex
	calls map[int]*Call

	log Logger
	tel *telemetry.Telemetry
}

// NewComponent builds an OAP component.
func NewComponent(log Logger, tel *telemetry.Telemetry) *Component {
	return &Component{
		calls: make(map[int]*Call),
		log:   log,
		tel:   tel,
	}
}

func (c *Component) Activate(callID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.calls[callID]; exists {
		return fmt.Errorf("oap: call %d already active", callID)
	}

	call, err := NewCall(callID, c.log, c.tel)
	if err != nil {
		return err
	}
	c.calls[callID] = call
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
		return fmt.Errorf("oap: call %d not active", callID)
	}
	call.Stop()
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
