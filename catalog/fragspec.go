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

// Package catalog implements the Fragmentation Catalog (relsfrag): the
// persistent record of which column and function distributes each
// table's rows across the cluster, and the pure routing function that
// turns a column value into a destination node.
package catalog

import (
	"fmt"

	"github.com/mitchellh/hashstructure"
	"github.com/spf13/cast"
)

// FuncID identifies a distribution function.
type FuncID int

const (
	// UNINITIALIZED means fragmentation is unknown or not applicable:
	// at the catalog level this should never occur for a real table; on
	// a plan subtree it means "replicated / unconstrained".
	UNINITIALIZED FuncID = iota
	MODULO
	GATHER
	HASH
)

func (f FuncID) String() string {
	switch f {
	case MODULO:
		return "MODULO"
	case GATHER:
		return "GATHER"
	case HASH:
		return "HASH"
	default:
		return "UNINITIALIZED"
	}
}

// FragSpec is the fragmentation descriptor for a relation or a plan
// subtree. Equality is by (Attno, FuncID) alone.
type FragSpec struct {
	// Attno is the 1-based column index this spec routes on, within the
	// table's own columns (catalog rows) or within a plan node's output
	// targetlist (computed specs).
	Attno  int
	FuncID FuncID
}

// Uninitialized is the sentinel "not fragmented" spec.
var Uninitialized = FragSpec{Attno: 0, FuncID: UNINITIALIZED}

func (s FragSpec) IsUninitialized() bool { return s.FuncID == UNINITIALIZED }

func (s FragSpec) Equals(o FragSpec) bool {
	return s.Attno == o.Attno && s.FuncID == o.FuncID
}

func (s FragSpec) String() string {
	return fmt.Sprintf("FragSpec(attno=%d, func=%s)", s.Attno, s.FuncID)
}

// Route maps a distribution-attribute value to a destination node,
// per §4.4's route(FragSpec, value, my_node, N) -> dest_node.
//
// coordNode is only consulted for GATHER; myNode is only consulted for
// UNINITIALIZED.
func Route(spec FragSpec, value interface{}, myNode, n, coordNode int) (int, error) {
	switch spec.FuncID {
	case GATHER:
		return coordNode, nil
	case UNINITIALIZED:
		return myNode, nil
	case MODULO:
		v, err := cast.ToInt64E(value)
		if err != nil {
			return 0, fmt.Errorf("modulo routing: %w", err)
		}
		return int(((v % int64(n)) + int64(n)) % int64(n)), nil
	case HASH:
		h, err := hashstructure.Hash(value, nil)
		if err != nil {
			return 0, fmt.Errorf("hash routing: %w", err)
		}
		return int(h % uint64(n)), nil
	default:
		return 0, fmt.Errorf("route: unknown func id %d", spec.FuncID)
	}
}
