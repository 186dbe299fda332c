//  _                          _
// | | _____  _____  ___  _ __| |_
// | |/ _ \ \/ / __|/ _ \| '__| __|
// | |  __/>  <\__ \ (_) | |  | |_
// |_|\___/_/\_\___/\___/|_|   \__|
//
//  Copyright © 2022 - 2026 Lexsort B.V. All rights reserved.
//
//  CONTACT: hello@lexsort.io
//

package scheduler

import (
	"fmt"
	"sync"
)

// Promise is the eventual output of a spawned job's subtree. A spawning body
// may embed promises of its children in its follow-on's task: the follow-on
// runs only after the whole child subtree completed, so by the time it reads
// them they are resolved.
type Promise struct {
	mu       sync.Mutex
	resolved bool
	out      []byte
}

// Get returns the resolved subtree output. Reading a promise before the
// subtree resolving it completed is a programming error, only follow-ons of
// the job that spawned the promise may consume it.
func (p *Promise) Get() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.resolved {
		panic(fmt.Sprintf("promise read before resolution (%p)", p))
	}
	return p.out
}

// Resolved reports whether the subtree behind the promise has completed.
func (p *Promise) Resolved() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolved
}

func (p *Promise) resolve(out []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolved = true
	p.out = out
}
