// Package relay selects among interchangeable forwarding services used when
// a direct fetch of a page is blocked.
package relay

import (
	"net/url"
	"sync"
)

// DefaultEndpoints is the preference-ordered relay list. The empty prefix is
// a direct fetch; the rest wrap the target URL as a query argument.
var DefaultEndpoints = []string{
	"",
	"https://api.allorigins.win/raw?url=",
	"https://api.codetabs.com/v1/proxy?quest=",
	"https://corsproxy.io/?",
}

// Endpoint is one relay candidate in try order.
type Endpoint struct {
	Index  int
	Prefix string
}

// Wrap builds the request URL routed through this endpoint.
func (e Endpoint) Wrap(target string) string {
	if e.Prefix == "" {
		return target
	}
	return e.Prefix + url.QueryEscape(target)
}

// Name labels the endpoint for logs.
func (e Endpoint) Name() string {
	if e.Prefix == "" {
		return "direct"
	}
	if u, err := url.Parse(e.Prefix); err == nil && u.Host != "" {
		return u.Host
	}
	return e.Prefix
}

// Chain holds the relay list plus a sticky preference for the endpoint that
// last succeeded, so future fetches skip known-dead relays.
type Chain struct {
	mu        sync.Mutex
	endpoints []string
	preferred int
}

// NewChain builds a Chain; an empty list selects DefaultEndpoints.
func NewChain(endpoints []string) *Chain {
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints
	}
	return &Chain{endpoints: append([]string(nil), endpoints...)}
}

// Candidates returns endpoints in try order: the sticky preference first,
// then the rest in configured order.
func (c *Chain) Candidates() []Endpoint {
	c.mu.Lock()
	preferred := c.preferred
	c.mu.Unlock()

	out := make([]Endpoint, 0, len(c.endpoints))
	out = append(out, Endpoint{Index: preferred, Prefix: c.endpoints[preferred]})
	for i, p := range c.endpoints {
		if i == preferred {
			continue
		}
		out = append(out, Endpoint{Index: i, Prefix: p})
	}
	return out
}

// Promote records that the endpoint at index succeeded.
func (c *Chain) Promote(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index >= 0 && index < len(c.endpoints) {
		c.preferred = index
	}
}
