// Package session tracks which chain an invocation is operating on. The
// active chain starts from configuration and follows token resolution: when a
// pasted address is recognized on another chain, the session switches there
// and every later stage reads the updated value.
package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/qinghaihe378-ai/dexroute/internal/registry"
)

type Context struct {
	mu       sync.Mutex
	chain    registry.Chain
	switched bool
	log      *zap.Logger
}

func New(chain registry.Chain, log *zap.Logger) *Context {
	if log == nil {
		log = zap.NewNop()
	}
	return &Context{chain: chain, log: log}
}

func (c *Context) Chain() registry.Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chain
}

// Switch moves the session to another chain. Switching to the current chain
// is a no-op and does not mark the session as switched.
func (c *Context) Switch(chain registry.Chain) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if chain.Key == c.chain.Key {
		return false
	}
	c.log.Info("switching chain",
		zap.String("from", c.chain.Key),
		zap.String("to", chain.Key),
	)
	c.chain = chain
	c.switched = true
	return true
}

// Switched reports whether any Switch call changed the chain during this
// session.
func (c *Context) Switched() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.switched
}
