// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"sync"
)

// Completion is a one-shot handle resolved with the Response to a single
// message.
type Completion struct {
	once sync.Once
	done chan struct{}
	resp Response
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// resolve stores resp and wakes waiters. Later calls are ignored.
func (c *Completion) resolve(resp Response) {
	c.once.Do(func() {
		c.resp = resp
		close(c.done)
	})
}

// Done is closed once the response is available.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the response arrives or ctx ends.
func (c *Completion) Wait(ctx context.Context) (Response, error) {
	select {
	case <-c.done:
		return c.resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}
