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

	"github.com/dolthub/shardquery/core"
)

// Inserter is implemented by anything InsertInto can write rows to; the
// memtable package provides the only implementation in this module.
type Inserter interface {
	core.Node
	Insert(ctx *core.Context, row core.Row) error
}

// InsertInto drives Source and writes every row it produces into
// Destination. The rewriter splices an Exchange directly below it so
// tuples already arrive routed to their owning node (§4.5); InsertInto
// itself never redistributes anything.
type InsertInto struct {
	Relname     string
	Destination Inserter
	Source      core.Node
}

func NewInsertInto(relname string, destination Inserter, source core.Node) *InsertInto {
	return &InsertInto{Relname: relname, Destination: destination, Source: source}
}

func (i *InsertInto) Schema() core.Schema { return core.Schema{{Name: "rows_inserted", Type: core.Int64}} }

func (i *InsertInto) Children() []core.Node { return []core.Node{i.Source} }

func (i *InsertInto) WithChildren(children ...core.Node) (core.Node, error) {
	if len(children) != 1 {
		return nil, core.ErrInvalidChildren.New(fmt.Sprintf("insert_into: expected 1 child, got %d", len(children)))
	}
	return NewInsertInto(i.Relname, i.Destination, children[0]), nil
}

func (i *InsertInto) RowIter(ctx *core.Context) (core.RowIter, error) {
	sourceIter, err := i.Source.RowIter(ctx)
	if err != nil {
		return nil, err
	}

	var n int64
	for {
		row, err := sourceIter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = sourceIter.Close(ctx)
			return nil, err
		}
		if err := i.Destination.Insert(ctx, row); err != nil {
			_ = sourceIter.Close(ctx)
			return nil, err
		}
		n++
	}
	if err := sourceIter.Close(ctx); err != nil {
		return nil, err
	}
	return &singleRowIter{row: core.NewRow(n)}, nil
}

func (i *InsertInto) String() string {
	return fmt.Sprintf("InsertInto(%s)", i.Relname)
}

// singleRowIter yields exactly one row, then io.EOF.
type singleRowIter struct {
	row  core.Row
	done bool
}

func (it *singleRowIter) Next(ctx *core.Context) (core.Row, error) {
	if it.done {
		return nil, io.EOF
	}
	it.done = true
	return it.row, nil
}

func (it *singleRowIter) Close(ctx *core.Context) error { return nil }
