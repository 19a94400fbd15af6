package nats

import "sync"

// Connectivity tracks the boolean connection state and notifies the sync
// adapter on change. Intermediate flaps may be coalesced; the channel always
// ends up carrying the latest state.
type Connectivity struct {
	mu        sync.Mutex
	connected bool
	changes   chan bool
}

func newConnectivity() *Connectivity {
	return &Connectivity{
		changes: make(chan bool, 1),
	}
}

// Connected reports the current state.
func (c *Connectivity) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Changes delivers each state transition.
func (c *Connectivity) Changes() <-chan bool {
	return c.changes
}

func (c *Connectivity) set(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected == connected {
		return
	}
	c.connected = connected

	// Replace a pending value rather than blocking the connection handler.
	select {
	case c.changes <- connected:
	default:
		select {
		case <-c.changes:
		default:
		}
		select {
		case c.changes <- connected:
		default:
		}
	}
}
