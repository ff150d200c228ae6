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

	"github.com/spf13/cast"

	"github.com/dolthub/shardquery/core"
)

// AggFunc is one column's reduction. SUM and COUNT are combinable across
// a partial/final split: a partial aggregate's SUM output can be summed
// again by the final aggregate, which is what makes the rewriter's
// broadcast-then-locally-reduce rule correct (§4.5).
type AggFunc int

const (
	Sum AggFunc = iota
	Count
)

func (f AggFunc) String() string {
	if f == Count {
		return "COUNT"
	}
	return "SUM"
}

// Aggregate groups by GroupBy and reduces Aggregates. Final, when false,
// marks this node as the non-final (partial) aggregate the rewriter
// broadcasts the input of (§4.5); a partial and its matching final
// aggregate share the same GroupBy/Aggregates shape.
type Aggregate struct {
	core.UnaryNode
	GroupBy    []core.Expression
	Aggregates []AggFunc
	AggInputs  []core.Expression
	Final      bool
	schema     core.Schema
}

func NewAggregate(groupBy []core.Expression, aggregates []AggFunc, aggInputs []core.Expression, final bool, schema core.Schema, child core.Node) *Aggregate {
	return &Aggregate{
		UnaryNode:  core.UnaryNode{Child: child},
		GroupBy:    groupBy,
		Aggregates: aggregates,
		AggInputs:  aggInputs,
		Final:      final,
		schema:     schema,
	}
}

func (a *Aggregate) Schema() core.Schema { return a.schema }

func (a *Aggregate) WithChildren(children ...core.Node) (core.Node, error) {
	if len(children) != 1 {
		return nil, core.ErrInvalidChildren.New(fmt.Sprintf("aggregate: expected 1 child, got %d", len(children)))
	}
	return NewAggregate(a.GroupBy, a.Aggregates, a.AggInputs, a.Final, a.schema, children[0]), nil
}

func (a *Aggregate) RowIter(ctx *core.Context) (core.RowIter, error) {
	childIter, err := a.Child.RowIter(ctx)
	if err != nil {
		return nil, err
	}

	type accum struct {
		key    string
		groups []interface{}
		sums   []float64
		counts []int64
	}
	groups := make(map[string]*accum)
	var order []string

	for {
		row, err := childIter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = childIter.Close(ctx)
			return nil, err
		}

		keyVals := make([]interface{}, len(a.GroupBy))
		for i, e := range a.GroupBy {
			v, err := e.Eval(ctx, row)
			if err != nil {
				_ = childIter.Close(ctx)
				return nil, err
			}
			keyVals[i] = v
		}
		key := fmt.Sprint(keyVals)

		ac, ok := groups[key]
		if !ok {
			ac = &accum{key: key, groups: keyVals, sums: make([]float64, len(a.Aggregates)), counts: make([]int64, len(a.Aggregates))}
			groups[key] = ac
			order = append(order, key)
		}

		for i, input := range a.AggInputs {
			v, err := input.Eval(ctx, row)
			if err != nil {
				_ = childIter.Close(ctx)
				return nil, err
			}
			f, _ := cast.ToFloat64E(v)
			ac.sums[i] += f
			ac.counts[i]++
		}
	}
	if err := childIter.Close(ctx); err != nil {
		return nil, err
	}

	rows := make([]core.Row, 0, len(order))
	for _, key := range order {
		ac := groups[key]
		row := make(core.Row, 0, len(ac.groups)+len(a.Aggregates))
		row = append(row, ac.groups...)
		for i, fn := range a.Aggregates {
			if fn == Count {
				row = append(row, ac.counts[i])
			} else {
				row = append(row, ac.sums[i])
			}
		}
		rows = append(rows, row)
	}

	return &sliceIter{rows: rows}, nil
}

func (a *Aggregate) String() string {
	if a.Final {
		return "Aggregate(final)"
	}
	return "Aggregate(partial)"
}

type sliceIter struct {
	rows []core.Row
	pos  int
}

func (it *sliceIter) Next(ctx *core.Context) (core.Row, error) {
	if it.pos >= len(it.rows) {
		return nil, io.EOF
	}
	row := it.rows[it.pos]
	it.pos++
	return row, nil
}

func (it *sliceIter) Close(ctx *core.Context) error { return nil }
