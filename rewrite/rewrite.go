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

// Package rewrite implements the Plan Rewriter (C5): a post-order walk
// over a freshly planned query tree that splices Exchange operators
// wherever rows must cross node boundaries, returning the FragSpec each
// subtree's output ends up distributed by.
package rewrite

import (
	"fmt"

	"github.com/opentracing/opentracing-go"

	"github.com/dolthub/shardquery/catalog"
	"github.com/dolthub/shardquery/core"
	"github.com/dolthub/shardquery/plan"
)

// Rewriter holds the cluster parameters and catalog handle every
// rewrite decision needs.
type Rewriter struct {
	Catalog   *catalog.Catalog
	MyNode    int
	N         int
	CoordNode int
	Tracer    opentracing.Tracer
}

func New(cat *catalog.Catalog, myNode, n, coordNode int) *Rewriter {
	return &Rewriter{Catalog: cat, MyNode: myNode, N: n, CoordNode: coordNode, Tracer: opentracing.GlobalTracer()}
}

// Rewrite is the entry point: it rewrites root and, unless root is
// itself an Aggregate (whose output is already replicated), splices a
// GATHER Exchange at the very top so the coordinator sees every node's
// output interleaved with its own (§4.5).
func (r *Rewriter) Rewrite(ctx *core.Context, root core.Node) (core.Node, error) {
	span := r.Tracer.StartSpan("rewrite.root")
	defer span.Finish()

	newRoot, _, err := r.rewriteNode(ctx, root)
	if err != nil {
		return nil, err
	}

	if _, isAgg := root.(*plan.Aggregate); isAgg {
		span.SetTag("gather_spliced", false)
		return newRoot, nil
	}

	span.SetTag("gather_spliced", true)
	return plan.NewExchange(plan.Gather, catalog.Uninitialized, r.MyNode, r.N, r.CoordNode, nil, newRoot), nil
}

func (r *Rewriter) rewriteNode(ctx *core.Context, node core.Node) (core.Node, catalog.FragSpec, error) {
	switch n := node.(type) {
	case *plan.ResolvedTable:
		return r.rewriteScan(ctx, n)
	case *plan.InsertInto:
		return r.rewriteInsert(ctx, n)
	case *plan.Aggregate:
		return r.rewriteAggregate(ctx, n)
	case *plan.InnerJoin:
		return r.rewriteJoin(ctx, n)
	default:
		return r.rewriteDefault(ctx, node)
	}
}

func (r *Rewriter) rewriteScan(ctx *core.Context, n *plan.ResolvedTable) (core.Node, catalog.FragSpec, error) {
	span := r.Tracer.StartSpan("rewrite.scan")
	defer span.Finish()
	span.SetTag("relname", n.Relname)

	spec, ok := r.Catalog.Lookup(n.Relname)
	if !ok {
		ctx.Logger.WithError(core.ErrCatalogMiss.New(n.Relname)).
			Info("rewrite: scan of relation absent from catalog, treating as UNINITIALIZED")
		spec = catalog.Uninitialized
	}
	span.SetTag("spec", spec.String())
	return n, spec, nil
}

func (r *Rewriter) rewriteInsert(ctx *core.Context, n *plan.InsertInto) (core.Node, catalog.FragSpec, error) {
	span := r.Tracer.StartSpan("rewrite.insert")
	defer span.Finish()

	newSource, _, err := r.rewriteNode(ctx, n.Source)
	if err != nil {
		return nil, catalog.FragSpec{}, err
	}

	destSpec, ok := r.Catalog.Lookup(n.Relname)
	if !ok {
		destSpec = catalog.Uninitialized
	}

	mode := plan.RouteByFunc
	if _, isValues := n.Source.(*plan.Values); isValues {
		mode = plan.DropDuplicatesRoute
	}
	span.SetTag("mode", mode.String())

	ex := plan.NewExchange(mode, destSpec, r.MyNode, r.N, r.CoordNode, nil, newSource)
	return plan.NewInsertInto(n.Relname, n.Destination, ex), catalog.Uninitialized, nil
}

func (r *Rewriter) rewriteAggregate(ctx *core.Context, n *plan.Aggregate) (core.Node, catalog.FragSpec, error) {
	span := r.Tracer.StartSpan("rewrite.aggregate")
	defer span.Finish()
	span.SetTag("final", n.Final)

	newChild, _, err := r.rewriteNode(ctx, n.Child)
	if err != nil {
		return nil, catalog.FragSpec{}, err
	}

	if !n.Final {
		newChild = plan.NewExchange(plan.Broadcast, catalog.Uninitialized, r.MyNode, r.N, r.CoordNode, nil, newChild)
	}

	newAgg, err := n.WithChildren(newChild)
	if err != nil {
		return nil, catalog.FragSpec{}, err
	}
	return newAgg, catalog.Uninitialized, nil
}

func (r *Rewriter) rewriteJoin(ctx *core.Context, n *plan.InnerJoin) (core.Node, catalog.FragSpec, error) {
	span := r.Tracer.StartSpan("rewrite.join")
	defer span.Finish()

	leftNode, leftSpec, err := r.rewriteNode(ctx, n.Left)
	if err != nil {
		return nil, catalog.FragSpec{}, err
	}
	rightNode, rightSpec, err := r.rewriteNode(ctx, n.Right)
	if err != nil {
		return nil, catalog.FragSpec{}, err
	}

	oj, ij := n.OuterJoinAttno, n.InnerJoinAttno
	leftWidth := len(n.Left.Schema())

	if leftSpec.IsUninitialized() || rightSpec.IsUninitialized() {
		span.SetTag("exchange", "none")
		return plan.NewInnerJoin(leftNode, rightNode, n.Cond, oj, ij), catalog.Uninitialized, nil
	}

	if ij < 0 || oj < 0 {
		span.SetTag("exchange", "BROADCAST_INNER")
		rightEx := plan.NewExchange(plan.Broadcast, catalog.Uninitialized, r.MyNode, r.N, r.CoordNode, nil, rightNode)
		joined := plan.NewInnerJoin(leftNode, rightEx, n.Cond, oj, ij)
		// The outer side's columns come first in the join's output, so
		// its spec carries over with the same attno.
		return joined, leftSpec, nil
	}

	outerMatches := leftSpec.Attno == oj+1
	innerMatches := rightSpec.Attno == ij+1

	switch {
	case outerMatches && innerMatches && leftSpec.FuncID == rightSpec.FuncID:
		span.SetTag("exchange", "none")
		joined := plan.NewInnerJoin(leftNode, rightNode, n.Cond, oj, ij)
		return joined, catalog.FragSpec{Attno: oj + 1, FuncID: leftSpec.FuncID}, nil

	case outerMatches:
		span.SetTag("exchange", "REDISTRIBUTE_INNER")
		rightEx := plan.NewExchange(plan.RouteByFunc, catalog.FragSpec{Attno: ij + 1, FuncID: leftSpec.FuncID}, r.MyNode, r.N, r.CoordNode, nil, rightNode)
		joined := plan.NewInnerJoin(leftNode, rightEx, n.Cond, oj, ij)
		return joined, catalog.FragSpec{Attno: oj + 1, FuncID: leftSpec.FuncID}, nil

	case innerMatches:
		span.SetTag("exchange", "REDISTRIBUTE_OUTER")
		leftEx := plan.NewExchange(plan.RouteByFunc, catalog.FragSpec{Attno: oj + 1, FuncID: rightSpec.FuncID}, r.MyNode, r.N, r.CoordNode, nil, leftNode)
		joined := plan.NewInnerJoin(leftEx, rightNode, n.Cond, oj, ij)
		return joined, catalog.FragSpec{Attno: leftWidth + ij + 1, FuncID: rightSpec.FuncID}, nil

	default:
		span.SetTag("exchange", "REDISTRIBUTE_INNER_BY_OUTER")
		rightEx := plan.NewExchange(plan.RouteByFunc, catalog.FragSpec{Attno: ij + 1, FuncID: leftSpec.FuncID}, r.MyNode, r.N, r.CoordNode, nil, rightNode)
		joined := plan.NewInnerJoin(leftNode, rightEx, n.Cond, oj, ij)
		return joined, catalog.FragSpec{Attno: oj + 1, FuncID: leftSpec.FuncID}, nil
	}
}

// rewriteDefault handles every pass-through node kind (Filter, Project,
// and anything else with zero or more children and no redistribution
// rule of its own): recurse into each child, and if more than one
// child reported a non-UNINITIALIZED spec they must agree (§4.5).
func (r *Rewriter) rewriteDefault(ctx *core.Context, node core.Node) (core.Node, catalog.FragSpec, error) {
	children := node.Children()
	if len(children) == 0 {
		return node, catalog.Uninitialized, nil
	}

	newChildren := make([]core.Node, len(children))
	result := catalog.Uninitialized
	for i, child := range children {
		newChild, spec, err := r.rewriteNode(ctx, child)
		if err != nil {
			return nil, catalog.FragSpec{}, err
		}
		newChildren[i] = newChild
		if !spec.IsUninitialized() {
			if !result.IsUninitialized() && !result.Equals(spec) {
				return nil, catalog.FragSpec{}, core.ErrProtocol.New(fmt.Sprintf("rewrite: sibling subtrees of %s disagree on distribution: %s vs %s", node, result, spec))
			}
			result = spec
		}
	}

	newNode, err := node.WithChildren(newChildren...)
	if err != nil {
		return nil, catalog.FragSpec{}, err
	}
	return newNode, result, nil
}

func unwrap(node core.Node) core.Node {
	for {
		if ex, ok := node.(*plan.Exchange); ok {
			node = ex.Child
			continue
		}
		return node
	}
}
