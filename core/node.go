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

package core

import "io"

// RowIter is the iterator-model execution protocol every plan node
// produces. Next returns io.EOF once exhausted.
type RowIter interface {
	Next(ctx *Context) (Row, error)
	Close(ctx *Context) error
}

// Node is a node in a plan tree.
type Node interface {
	Schema() Schema
	Children() []Node
	WithChildren(children ...Node) (Node, error)
	RowIter(ctx *Context) (RowIter, error)
	String() string
}

// Expression evaluates to a scalar value given a row, using the row's
// owning node's Schema for positional lookups.
type Expression interface {
	Type() Type
	Eval(ctx *Context, row Row) (interface{}, error)
	String() string
}

// UnaryNode is embedded by plan nodes with exactly one child.
type UnaryNode struct {
	Child Node
}

func (n UnaryNode) Children() []Node { return []Node{n.Child} }

// RowIterToRows drains an iterator into a slice, closing it when done or
// on error. Convenience for tests and for InnerJoin, which materializes
// its inner side with it.
func RowIterToRows(ctx *Context, iter RowIter) ([]Row, error) {
	var rows []Row
	for {
		row, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = iter.Close(ctx)
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, iter.Close(ctx)
}
