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

import "fmt"

// GetField reads the value at a fixed 0-based position of the row. It is
// the expression form of a plan node's targetlist Var: the rewriter walks
// these to find which output position carries the distribution attribute.
type GetField struct {
	index int
	fType Type
	name  string
}

func NewGetField(index int, fType Type, name string) *GetField {
	return &GetField{index: index, fType: fType, name: name}
}

func (p *GetField) Index() int   { return p.index }
func (p *GetField) Type() Type   { return p.fType }
func (p *GetField) Name() string { return p.name }

func (p *GetField) Eval(ctx *Context, row Row) (interface{}, error) {
	if p.index < 0 || p.index >= len(row) {
		return nil, ErrProtocol.New(fmt.Sprintf("get field: index %d out of range for row of length %d", p.index, len(row)))
	}
	return row[p.index], nil
}

func (p *GetField) String() string {
	return fmt.Sprintf("%s", p.name)
}

// Equals is a two-sided equality comparison, used to express join
// conditions (`outer.attr = inner.attr`).
type Equals struct {
	Left, Right Expression
}

func NewEquals(left, right Expression) *Equals {
	return &Equals{Left: left, Right: right}
}

func (e *Equals) Type() Type { return Int64 }

func (e *Equals) Eval(ctx *Context, row Row) (interface{}, error) {
	l, err := e.Left.Eval(ctx, row)
	if err != nil {
		return nil, err
	}
	r, err := e.Right.Eval(ctx, row)
	if err != nil {
		return nil, err
	}
	return fmt.Sprint(l) == fmt.Sprint(r), nil
}

func (e *Equals) String() string {
	return fmt.Sprintf("(%s = %s)", e.Left, e.Right)
}
