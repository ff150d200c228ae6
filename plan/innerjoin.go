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

	"github.com/dolthub/shardquery/core"
)

// InnerJoin is a nested-loop equi-join: outer on the left, inner
// materialized on the right. OuterJoinAttno/InnerJoinAttno are the
// 0-based positions, within each side's own output schema, of the
// attribute Cond equates; the rewriter reads them to decide which side
// to redistribute (§4.5) and to remap the join's output attno afterward.
// Either may be -1 when the join condition does not reduce to a single
// equated attribute pair on that side.
type InnerJoin struct {
	Left, Right    core.Node
	Cond           core.Expression
	OuterJoinAttno int
	InnerJoinAttno int
}

func NewInnerJoin(left, right core.Node, cond core.Expression, outerAttno, innerAttno int) *InnerJoin {
	return &InnerJoin{Left: left, Right: right, Cond: cond, OuterJoinAttno: outerAttno, InnerJoinAttno: innerAttno}
}

func (j *InnerJoin) Schema() core.Schema {
	return append(append(core.Schema{}, j.Left.Schema()...), j.Right.Schema()...)
}

func (j *InnerJoin) Children() []core.Node { return []core.Node{j.Left, j.Right} }

func (j *InnerJoin) WithChildren(children ...core.Node) (core.Node, error) {
	if len(children) != 2 {
		return nil, core.ErrInvalidChildren.New(fmt.Sprintf("inner_join: expected 2 children, got %d", len(children)))
	}
	return NewInnerJoin(children[0], children[1], j.Cond, j.OuterJoinAttno, j.InnerJoinAttno), nil
}

func (j *InnerJoin) RowIter(ctx *core.Context) (core.RowIter, error) {
	rightIter, err := j.Right.RowIter(ctx)
	if err != nil {
		return nil, err
	}
	rightRows, err := core.RowIterToRows(ctx, rightIter)
	if err != nil {
		return nil, err
	}

	leftIter, err := j.Left.RowIter(ctx)
	if err != nil {
		return nil, err
	}

	return &innerJoinIter{cond: j.Cond, left: leftIter, rightRows: rightRows}, nil
}

func (j *InnerJoin) String() string {
	return fmt.Sprintf("InnerJoin(%s)", j.Cond)
}

type innerJoinIter struct {
	cond      core.Expression
	left      core.RowIter
	rightRows []core.Row

	curLeft core.Row
	pos     int
}

func (it *innerJoinIter) Next(ctx *core.Context) (core.Row, error) {
	for {
		if it.curLeft == nil {
			row, err := it.left.Next(ctx)
			if err != nil {
				return nil, err
			}
			it.curLeft = row
			it.pos = 0
		}

		for it.pos < len(it.rightRows) {
			right := it.rightRows[it.pos]
			it.pos++

			combined := make(core.Row, 0, len(it.curLeft)+len(right))
			combined = append(combined, it.curLeft...)
			combined = append(combined, right...)

			v, err := it.cond.Eval(ctx, combined)
			if err != nil {
				return nil, err
			}
			if truthy(v) {
				return combined, nil
			}
		}

		it.curLeft = nil
	}
}

func (it *innerJoinIter) Close(ctx *core.Context) error {
	return it.left.Close(ctx)
}
