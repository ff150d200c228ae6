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

// Package memtable is the only leaf-level core.Node this module provides
// on its own: an in-memory table, standing in for the storage engine a
// real host executor would supply, so the rewriter and Exchange operator
// have something concrete to scan and insert into in tests and examples.
package memtable

import (
	"fmt"
	"io"
	"sync"

	"github.com/dolthub/shardquery/core"
)

// Table is a mutex-guarded, append-only in-memory relation.
type Table struct {
	name   string
	schema core.Schema

	mu   sync.RWMutex
	rows []core.Row
}

// New creates an empty table with the given name and schema.
func New(name string, schema core.Schema) *Table {
	return &Table{name: name, schema: schema}
}

func (t *Table) Name() string { return t.name }

func (t *Table) Schema() core.Schema { return t.schema }

func (t *Table) Children() []core.Node { return nil }

func (t *Table) WithChildren(children ...core.Node) (core.Node, error) {
	if len(children) != 0 {
		return nil, core.ErrInvalidChildren.New(fmt.Sprintf("memtable: expected 0 children, got %d", len(children)))
	}
	return t, nil
}

// Insert appends row to the table. Implements plan.Inserter.
func (t *Table) Insert(ctx *core.Context, row core.Row) error {
	if len(row) != len(t.schema) {
		return core.ErrProtocol.New(fmt.Sprintf("memtable %s: expected %d columns, got %d", t.name, len(t.schema), len(row)))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = append(t.rows, row.Copy())
	return nil
}

// RowIter produces a snapshot iterator over the table's current rows.
func (t *Table) RowIter(ctx *core.Context) (core.RowIter, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snapshot := make([]core.Row, len(t.rows))
	copy(snapshot, t.rows)
	return &tableIter{rows: snapshot}, nil
}

func (t *Table) String() string {
	return fmt.Sprintf("Table(%s)", t.name)
}

type tableIter struct {
	rows []core.Row
	pos  int
}

func (it *tableIter) Next(ctx *core.Context) (core.Row, error) {
	if it.pos >= len(it.rows) {
		return nil, io.EOF
	}
	row := it.rows[it.pos]
	it.pos++
	return row, nil
}

func (it *tableIter) Close(ctx *core.Context) error { return nil }
