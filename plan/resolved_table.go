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

// Package plan holds the query plan tree: the node kinds the rewriter
// (package rewrite) walks and annotates with Exchange operators, and the
// Exchange operator itself (C6).
package plan

import (
	"fmt"

	"github.com/dolthub/shardquery/core"
)

// ResolvedTable is a leaf scan over a named relation. Relname is what the
// rewriter uses to look the table's FragSpec up in the catalog (§4.5).
type ResolvedTable struct {
	Relname string
	Table   core.Node
}

func NewResolvedTable(relname string, table core.Node) *ResolvedTable {
	return &ResolvedTable{Relname: relname, Table: table}
}

func (t *ResolvedTable) Schema() core.Schema { return t.Table.Schema() }

func (t *ResolvedTable) Children() []core.Node { return nil }

func (t *ResolvedTable) WithChildren(children ...core.Node) (core.Node, error) {
	if len(children) != 0 {
		return nil, core.ErrInvalidChildren.New(fmt.Sprintf("resolved_table: expected 0 children, got %d", len(children)))
	}
	return t, nil
}

func (t *ResolvedTable) RowIter(ctx *core.Context) (core.RowIter, error) {
	return t.Table.RowIter(ctx)
}

func (t *ResolvedTable) String() string {
	return fmt.Sprintf("ResolvedTable(%s)", t.Relname)
}
