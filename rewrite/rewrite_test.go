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

package rewrite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dolthub/shardquery/catalog"
	"github.com/dolthub/shardquery/core"
	"github.com/dolthub/shardquery/memtable"
	"github.com/dolthub/shardquery/plan"
)

func openCatalog(t *testing.T) *catalog.Catalog {
	cat, err := catalog.Open(filepath.Join(t.TempDir(), "relsfrag.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	return cat
}

func TestRewriteScanSplicesGatherAtRoot(t *testing.T) {
	cat := openCatalog(t)
	require.NoError(t, cat.AddTable("widgets", catalog.FragSpec{Attno: 1, FuncID: catalog.HASH}))

	tbl := memtable.New("widgets", core.Schema{{Name: "id", Type: core.Int64}})
	scan := plan.NewResolvedTable("widgets", tbl)

	r := New(cat, 0, 3, 0)
	ctx := core.NewEmptyContext()
	rewritten, err := r.Rewrite(ctx, scan)
	require.NoError(t, err)

	ex, ok := rewritten.(*plan.Exchange)
	require.True(t, ok)
	require.Equal(t, plan.Gather, ex.Mode)
	require.Same(t, scan, ex.Child)
}

func TestRewriteAggregateDoesNotSpliceGatherAtRoot(t *testing.T) {
	cat := openCatalog(t)
	tbl := memtable.New("widgets", core.Schema{{Name: "qty", Type: core.Int64}})
	scan := plan.NewResolvedTable("widgets", tbl)
	agg := plan.NewAggregate(nil, []plan.AggFunc{plan.Sum}, []core.Expression{core.NewGetField(0, core.Int64, "qty")}, true, core.Schema{{Name: "total", Type: core.Float64}}, scan)

	r := New(cat, 0, 2, 0)
	rewritten, err := r.Rewrite(core.NewEmptyContext(), agg)
	require.NoError(t, err)
	_, isExchange := rewritten.(*plan.Exchange)
	require.False(t, isExchange)
}

func TestRewritePartialAggregateGetsBroadcastBelow(t *testing.T) {
	cat := openCatalog(t)
	tbl := memtable.New("widgets", core.Schema{{Name: "qty", Type: core.Int64}})
	scan := plan.NewResolvedTable("widgets", tbl)
	agg := plan.NewAggregate(nil, []plan.AggFunc{plan.Sum}, []core.Expression{core.NewGetField(0, core.Int64, "qty")}, false, core.Schema{{Name: "total", Type: core.Float64}}, scan)

	r := New(cat, 0, 2, 0)
	rewritten, err := r.Rewrite(core.NewEmptyContext(), agg)
	require.NoError(t, err)

	newAgg, ok := rewritten.(*plan.Aggregate)
	require.True(t, ok)
	ex, ok := newAgg.Child.(*plan.Exchange)
	require.True(t, ok)
	require.Equal(t, plan.Broadcast, ex.Mode)
}

func TestRewriteInsertFromValuesUsesDropDuplicatesRoute(t *testing.T) {
	cat := openCatalog(t)
	require.NoError(t, cat.AddTable("widgets", catalog.FragSpec{Attno: 1, FuncID: catalog.MODULO}))

	dest := memtable.New("widgets", core.Schema{{Name: "id", Type: core.Int64}})
	values := plan.NewValues([]core.Row{core.NewRow(int64(1))}, dest.Schema())
	insert := plan.NewInsertInto("widgets", dest, values)

	r := New(cat, 0, 2, 0)
	rewritten, err := r.Rewrite(core.NewEmptyContext(), insert)
	require.NoError(t, err)

	newInsert, ok := rewritten.(*plan.InsertInto)
	require.True(t, ok)
	ex, ok := newInsert.Source.(*plan.Exchange)
	require.True(t, ok)
	require.Equal(t, plan.DropDuplicatesRoute, ex.Mode)
}

func TestRewriteJoinWithUninitializedSideAddsNoExchange(t *testing.T) {
	cat := openCatalog(t)
	require.NoError(t, cat.AddTable("orders", catalog.Uninitialized))
	require.NoError(t, cat.AddTable("widgets", catalog.FragSpec{Attno: 1, FuncID: catalog.HASH}))

	orders := memtable.New("orders", core.Schema{{Name: "id", Type: core.Int64}, {Name: "widget_id", Type: core.Int64}})
	widgets := memtable.New("widgets", core.Schema{{Name: "id", Type: core.Int64}})

	// orders is UNINITIALIZED in the catalog above, so the join has one
	// side with no fragmentation.
	leftScan := plan.NewResolvedTable("orders", orders)
	rightScan := plan.NewResolvedTable("widgets", widgets)
	cond := core.NewEquals(core.NewGetField(1, core.Int64, "widget_id"), core.NewGetField(0, core.Int64, "id"))
	join := plan.NewInnerJoin(leftScan, rightScan, cond, 1, 0)

	r := New(cat, 0, 3, 0)
	rewritten, err := r.Rewrite(core.NewEmptyContext(), join)
	require.NoError(t, err)

	// orders has no catalog entry beyond UNINITIALIZED, so per §4.5 no
	// Exchange is introduced at all: the rewriter root still splices the
	// top-level GATHER, but the join itself is untouched.
	ex, ok := rewritten.(*plan.Exchange)
	require.True(t, ok)
	_, isJoin := ex.Child.(*plan.InnerJoin)
	require.True(t, isJoin)
}
