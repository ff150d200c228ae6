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

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRowCopyIsIndependent(t *testing.T) {
	row := NewRow(int64(1), "a")
	cp := row.Copy()
	cp[0] = int64(2)
	require.Equal(t, int64(1), row[0])
	require.Equal(t, int64(2), cp[0])
}

func TestNewContextTagsQueryIDAndNode(t *testing.T) {
	ctx := NewContext(NewEmptyContext().Context, 3)
	require.Equal(t, 3, ctx.MyNode)
	require.NotEqual(t, "00000000-0000-0000-0000-000000000000", ctx.QueryID.String())
}

func TestWithCancelPreservesQueryID(t *testing.T) {
	ctx := NewContext(NewEmptyContext().Context, 1)
	derived, cancel := WithCancel(ctx)
	defer cancel()

	require.Equal(t, ctx.QueryID, derived.QueryID)
	require.Equal(t, ctx.MyNode, derived.MyNode)

	cancel()
	require.Error(t, derived.Err())
}

type sliceRowIter struct {
	rows []Row
	pos  int
}

func (it *sliceRowIter) Next(ctx *Context) (Row, error) {
	if it.pos >= len(it.rows) {
		return nil, io.EOF
	}
	row := it.rows[it.pos]
	it.pos++
	return row, nil
}

func (it *sliceRowIter) Close(ctx *Context) error { return nil }

func TestRowIterToRowsDrainsAndCloses(t *testing.T) {
	ctx := NewEmptyContext()
	iter := &sliceRowIter{rows: []Row{NewRow(int64(1)), NewRow(int64(2))}}

	rows, err := RowIterToRows(ctx, iter)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, int64(1), rows[0][0])
}

func TestUnaryNodeChildren(t *testing.T) {
	leaf := UnaryNode{}
	n := UnaryNode{Child: leaf}
	require.Len(t, n.Children(), 1)
}

func TestGetFieldEvalOutOfRange(t *testing.T) {
	f := NewGetField(5, Int64, "a")
	_, err := f.Eval(NewEmptyContext(), NewRow(int64(1)))
	require.Error(t, err)
	require.True(t, ErrProtocol.Is(err))
}

func TestGetFieldEvalInRange(t *testing.T) {
	f := NewGetField(1, Text, "b")
	v, err := f.Eval(NewEmptyContext(), NewRow(int64(1), "hello"))
	require.NoError(t, err)
	require.Equal(t, "hello", v)
}

func TestEqualsExpression(t *testing.T) {
	eq := NewEquals(NewGetField(0, Int64, "a"), NewGetField(1, Int64, "b"))

	v, err := eq.Eval(NewEmptyContext(), NewRow(int64(5), int64(5)))
	require.NoError(t, err)
	require.Equal(t, true, v)

	v, err = eq.Eval(NewEmptyContext(), NewRow(int64(5), int64(6)))
	require.NoError(t, err)
	require.Equal(t, false, v)
}

func TestErrorKindsFormatSingleArgument(t *testing.T) {
	err := ErrCatalogMiss.New("widgets")
	require.Contains(t, err.Error(), "widgets")

	err = ErrConfig.New("bad value")
	require.Contains(t, err.Error(), "bad value")
}
