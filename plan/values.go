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

// Values is a row constructor: the plan-tree shape of `INSERT ... VALUES
// (...), (...)`. The rewriter treats an insert sourced from Values
// specially, using DROP_DUPLICATES_ROUTE instead of ROUTE_BY_FUNC since
// every node evaluates the same literal rows (§4.5).
type Values struct {
	rows   []core.Row
	schema core.Schema
}

func NewValues(rows []core.Row, schema core.Schema) *Values {
	return &Values{rows: rows, schema: schema}
}

func (v *Values) Schema() core.Schema { return v.schema }

func (v *Values) Children() []core.Node { return nil }

func (v *Values) WithChildren(children ...core.Node) (core.Node, error) {
	if len(children) != 0 {
		return nil, core.ErrInvalidChildren.New(fmt.Sprintf("values: expected 0 children, got %d", len(children)))
	}
	return v, nil
}

func (v *Values) RowIter(ctx *core.Context) (core.RowIter, error) {
	rows := make([]core.Row, len(v.rows))
	copy(rows, v.rows)
	return &sliceIter{rows: rows}, nil
}

func (v *Values) String() string {
	return fmt.Sprintf("Values(%d rows)", len(v.rows))
}
