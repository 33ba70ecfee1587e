package token

import "sync"

// client tracks the resource tokens held by one registered pid.
type client struct {
	pid uint64

	mu     sync.Mutex
	tokens map[string]*Token
	dead   bool
}

func newClient(pid uint64) *client {
	return &client{pid: pid, tokens: make(map[string]*Token)}
}

func (c *client) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tokens)
}

// list returns a snapshot of every token currently held, for INQUIRE.
// Unlike snapshotAndClear, it does not mark the client dead or clear
// its token set.
func (c *client) list() []*Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	toks := make([]*Token, 0, len(c.tokens))
	for _, tok := range c.tokens {
		toks = append(toks, tok)
	}
	return toks
}

// snapshotAndClear marks the client dead and returns every token it
// held, for the caller to release asynchronously. Called at most once
// per client, when its pid is found dead.
func (c *client) snapshotAndClear() []*Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dead = true
	toks := make([]*Token, 0, len(c.tokens))
	for _, tok := range c.tokens {
		toks = append(toks, tok)
	}
	c.tokens = make(map[string]*Token)
	return toks
}
