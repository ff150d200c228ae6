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

package plan

import (
	"fmt"
	"io"

	"github.com/dolthub/shardquery/catalog"
	"github.com/dolthub/shardquery/core"
	"github.com/dolthub/shardquery/mesh"
)

// Mode is an Exchange instance's routing discipline (§4.6).
type Mode int

const (
	// Broadcast sends every tuple to every peer and also keeps a local
	// copy, used below a partial aggregate (§4.5).
	Broadcast Mode = iota
	// Gather routes every tuple to the query's coordinator.
	Gather
	// RouteByFunc consults the Fragmentation Catalog's route function.
	RouteByFunc
	// DropDuplicatesRoute behaves like RouteByFunc but silently discards
	// a tuple destined for another node instead of sending it, used when
	// every node independently evaluated the same row source and only
	// the owning node should keep a copy (§4.5: inserts from constants).
	DropDuplicatesRoute
)

func (m Mode) String() string {
	switch m {
	case Broadcast:
		return "BROADCAST"
	case Gather:
		return "GATHER"
	case RouteByFunc:
		return "ROUTE_BY_FUNC"
	case DropDuplicatesRoute:
		return "DROP_DUPLICATES_ROUTE"
	default:
		return "UNKNOWN"
	}
}

// Exchange is the tuple-exchange operator (C6): a demand-driven iterator
// that interleaves pulling from its child with draining the mesh, and
// redistributes locally-sourced tuples according to Mode.
type Exchange struct {
	core.UnaryNode
	Mode      Mode
	Spec      catalog.FragSpec
	MyNode    int
	N         int
	CoordNode int
	Mesh      *mesh.MeshConn

	// passStarted tracks whether RowIter has already run one pass on this
	// instance, so a second call (§4.6's "Rescan") knows to reopen the
	// mesh's peer slots instead of treating it as the first pass.
	passStarted bool
}

func NewExchange(mode Mode, spec catalog.FragSpec, myNode, n, coordNode int, mc *mesh.MeshConn, child core.Node) *Exchange {
	return &Exchange{
		UnaryNode: core.UnaryNode{Child: child},
		Mode:      mode,
		Spec:      spec,
		MyNode:    myNode,
		N:         n,
		CoordNode: coordNode,
		Mesh:      mc,
	}
}

func (e *Exchange) Schema() core.Schema { return e.Child.Schema() }

func (e *Exchange) WithChildren(children ...core.Node) (core.Node, error) {
	if len(children) != 1 {
		return nil, core.ErrInvalidChildren.New(fmt.Sprintf("exchange: expected 1 child, got %d", len(children)))
	}
	return NewExchange(e.Mode, e.Spec, e.MyNode, e.N, e.CoordNode, e.Mesh, children[0]), nil
}

// RowIter starts (or restarts: §4.6 "Rescan") an Exchange pass. A second
// or later call on the same instance reopens the mesh's peer slots
// (MeshConn.Reopen) before resetting the activity flags, so the new
// pass's tuples and close sentinels are not silently dropped by slots
// the first pass already retired.
func (e *Exchange) RowIter(ctx *core.Context) (core.RowIter, error) {
	childIter, err := e.Child.RowIter(ctx)
	if err != nil {
		return nil, err
	}
	if e.passStarted {
		e.Mesh.Reopen()
	}
	e.passStarted = true
	return &exchangeIter{exchange: e, child: childIter, localActive: true, networkActive: true}, nil
}

func (e *Exchange) String() string {
	return fmt.Sprintf("Exchange(%s)", e.Mode)
}

// Cancel implements the Exchange's cancellation sequence (§5): stop
// pulling from the child, signal and close outbound sockets, drain
// inbound sockets to completion, and release the port this instance
// holds.
func (e *Exchange) Cancel(ctx *core.Context, port int, pool portPusher) error {
	err := e.Mesh.CancelDrain()
	e.Mesh.End()
	if pool != nil {
		pool.Push(port)
	}
	return err
}

// portPusher is the minimal surface Cancel needs from a port pool,
// avoiding a direct dependency from plan on portpool.
type portPusher interface {
	Push(port int)
}

type exchangeIter struct {
	exchange      *Exchange
	child         core.RowIter
	localActive   bool
	networkActive bool
}

func (it *exchangeIter) Next(ctx *core.Context) (core.Row, error) {
	ex := it.exchange
	for {
		if it.networkActive {
			row, status, err := ex.Mesh.RecvAny()
			if err != nil {
				return nil, err
			}
			switch status {
			case mesh.RecvTuple:
				return row, nil
			case mesh.RecvClosed:
				it.networkActive = false
			}
			// RecvNone falls through to the local side.
		}

		if it.localActive {
			row, err := it.child.Next(ctx)
			if err == io.EOF {
				if cerr := ex.Mesh.SendCloseAll(); cerr != nil {
					return nil, cerr
				}
				it.localActive = false
			} else if err != nil {
				return nil, err
			} else {
				out, action, err := it.route(ex, row)
				if err != nil {
					return nil, err
				}
				if action == routeReturn {
					return out, nil
				}
				// routed away or dropped: loop back around.
				continue
			}
		}

		if !it.localActive && !it.networkActive {
			return nil, io.EOF
		}
	}
}

type routeAction int

const (
	routeContinue routeAction = iota
	routeReturn
)

func (it *exchangeIter) route(ex *Exchange, row core.Row) (core.Row, routeAction, error) {
	switch ex.Mode {
	case Broadcast:
		for p := 0; p < ex.N; p++ {
			if p == ex.MyNode {
				continue
			}
			if err := ex.Mesh.Send(p, row); err != nil {
				return nil, routeContinue, err
			}
		}
		return row, routeReturn, nil

	case Gather:
		if ex.CoordNode == ex.MyNode {
			return row, routeReturn, nil
		}
		if err := ex.Mesh.Send(ex.CoordNode, row); err != nil {
			return nil, routeContinue, err
		}
		return nil, routeContinue, nil

	case RouteByFunc, DropDuplicatesRoute:
		var val interface{}
		if ex.Spec.Attno >= 1 && ex.Spec.Attno <= len(row) {
			val = row[ex.Spec.Attno-1]
		}
		dest, err := catalog.Route(ex.Spec, val, ex.MyNode, ex.N, ex.CoordNode)
		if err != nil {
			return nil, routeContinue, err
		}
		if dest == ex.MyNode {
			return row, routeReturn, nil
		}
		if ex.Mode == DropDuplicatesRoute {
			return nil, routeContinue, nil
		}
		if err := ex.Mesh.Send(dest, row); err != nil {
			return nil, routeContinue, err
		}
		return nil, routeContinue, nil

	default:
		return nil, routeContinue, core.ErrProtocol.New(fmt.Sprintf("exchange: unknown mode %d", ex.Mode))
	}
}

func (it *exchangeIter) Close(ctx *core.Context) error {
	return it.child.Close(ctx)
}
