// Copyright 2020-2021 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package portpool implements the cluster-shared pool of TCP port
// numbers Exchange mesh setup borrows from and returns to (§4.1).
package portpool

import (
	"fmt"
	"sync"

	"github.com/dolthub/shardquery/core"
)

// Pool is a single process-wide, node-wide LIFO stack of port numbers.
// Pop is called at the start of a mesh setup to reserve the listening
// port for that Exchange instance; Push returns it at teardown.
type Pool struct {
	mu    sync.Mutex
	stack []int
}

// New fills the stack with poolSize consecutive ports, offset by myNode
// so distinct nodes draw from disjoint ranges: [base+myNode*poolSize,
// base+(myNode+1)*poolSize).
func New(base, myNode, poolSize int) (*Pool, error) {
	if poolSize < 1 || poolSize > 10000 {
		return nil, core.ErrConfig.New(fmt.Sprintf("eports must be in [1, 10000], got %d", poolSize))
	}

	start := base + myNode*poolSize
	stack := make([]int, poolSize)
	for i := 0; i < poolSize; i++ {
		// Pushed in descending order so Pop yields ascending ports; the
		// spec places no requirement on pop order, only that Push/Pop
		// are mutex-serialized and the pool is restored after teardown.
		stack[i] = start + poolSize - 1 - i
	}
	return &Pool{stack: stack}, nil
}

// Pop reserves one port. ResourceExhausted is returned, never blocked on,
// when the pool is empty.
func (p *Pool) Pop() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.stack) == 0 {
		return 0, core.ErrResourceExhausted.New("port pool empty")
	}

	n := len(p.stack) - 1
	port := p.stack[n]
	p.stack = p.stack[:n]
	return port, nil
}

// Push returns a previously popped port. Every Exchange termination path
// (success, cancellation, or setup failure past the point of Pop) must
// call this exactly once per port it holds.
func (p *Pool) Push(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stack = append(p.stack, port)
}

// Len reports the current occupancy, for the mesh-teardown invariant
// test (§8 property 5: pool index equals its pre-query value after a
// query completes) and for the /portpool introspection endpoint.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stack)
}
