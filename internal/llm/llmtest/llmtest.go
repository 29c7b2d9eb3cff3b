// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mtzanidakis/directorate/internal/llm"
)

// Reply is one scripted completion. Err takes precedence over Text.
type Reply struct {
	Text string
	Err  error
}

// Client answers requests by matching a substring of the system prompt.
// Unmatched requests fail so a test never reaches a real service.
type Client struct {
	mu      sync.Mutex
	replies map[string][]Reply
	calls   []llm.Request
}

func New() *Client {
	return &Client{replies: make(map[string][]Reply)}
}

// On queues replies for requests whose system prompt contains match.
// The last reply repeats once the queue is drained.
func (c *Client) On(match string, replies ...Reply) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies[match] = append(c.replies[match], replies...)
	return c
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)

	for match, queue := range c.replies {
		if !strings.Contains(req.System, match) || len(queue) == 0 {
			continue
		}
		r := queue[0]
		if len(queue) > 1 {
			c.replies[match] = queue[1:]
		}
		if r.Err != nil {
			return nil, r.Err
		}
		return &llm.Response{Text: r.Text, Model: req.Model}, nil
	}
	return nil, fmt.Errorf("llmtest: no reply scripted for system prompt %.40q", req.System)
}

// Calls returns the requests seen so far.
func (c *Client) Calls() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Request, len(c.calls))
	copy(out, c.calls)
	return out
}
