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

// Filter discards rows for which Cond evaluates to a falsy value.
type Filter struct {
	core.UnaryNode
	Cond core.Expression
}

func NewFilter(cond core.Expression, child core.Node) *Filter {
	return &Filter{UnaryNode: core.UnaryNode{Child: child}, Cond: cond}
}

func (f *Filter) Schema() core.Schema { return f.Child.Schema() }

func (f *Filter) WithChildren(children ...core.Node) (core.Node, error) {
	if len(children) != 1 {
		return nil, core.ErrInvalidChildren.New(fmt.Sprintf("filter: expected 1 child, got %d", len(children)))
	}
	return NewFilter(f.Cond, children[0]), nil
}

func (f *Filter) RowIter(ctx *core.Context) (core.RowIter, error) {
	childIter, err := f.Child.RowIter(ctx)
	if err != nil {
		return nil, err
	}
	return &filterIter{cond: f.Cond, child: childIter}, nil
}

func (f *Filter) String() string {
	return fmt.Sprintf("Filter(%s)", f.Cond)
}

type filterIter struct {
	cond  core.Expression
	child core.RowIter
}

func (it *filterIter) Next(ctx *core.Context) (core.Row, error) {
	for {
		row, err := it.child.Next(ctx)
		if err != nil {
			return nil, err
		}
		v, err := it.cond.Eval(ctx, row)
		if err != nil {
			return nil, err
		}
		if truthy(v) {
			return row, nil
		}
	}
}

func (it *filterIter) Close(ctx *core.Context) error {
	return it.child.Close(ctx)
}

func truthy(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case nil:
		return false
	default:
		return true
	}
}
