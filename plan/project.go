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
	"strings"

	"github.com/dolthub/shardquery/core"
)

// Project evaluates Projections against each child row, producing the
// output targetlist the rewriter scans when it needs to remap a
// distribution attribute's position (§4.5).
type Project struct {
	core.UnaryNode
	Projections []core.Expression
	schema      core.Schema
}

func NewProject(projections []core.Expression, schema core.Schema, child core.Node) *Project {
	return &Project{UnaryNode: core.UnaryNode{Child: child}, Projections: projections, schema: schema}
}

func (p *Project) Schema() core.Schema { return p.schema }

func (p *Project) WithChildren(children ...core.Node) (core.Node, error) {
	if len(children) != 1 {
		return nil, core.ErrInvalidChildren.New(fmt.Sprintf("project: expected 1 child, got %d", len(children)))
	}
	return NewProject(p.Projections, p.schema, children[0]), nil
}

func (p *Project) RowIter(ctx *core.Context) (core.RowIter, error) {
	childIter, err := p.Child.RowIter(ctx)
	if err != nil {
		return nil, err
	}
	return &projectIter{projections: p.Projections, child: childIter}, nil
}

func (p *Project) String() string {
	parts := make([]string, len(p.Projections))
	for i, e := range p.Projections {
		parts[i] = e.String()
	}
	return fmt.Sprintf("Project(%s)", strings.Join(parts, ", "))
}

type projectIter struct {
	projections []core.Expression
	child       core.RowIter
}

func (it *projectIter) Next(ctx *core.Context) (core.Row, error) {
	row, err := it.child.Next(ctx)
	if err != nil {
		return nil, err
	}
	out := make(core.Row, len(it.projections))
	for i, e := range it.projections {
		v, err := e.Eval(ctx, row)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (it *projectIter) Close(ctx *core.Context) error {
	return it.child.Close(ctx)
}
