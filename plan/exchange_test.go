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
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dolthub/shardquery/catalog"
	"github.com/dolthub/shardquery/core"
	"github.com/dolthub/shardquery/memtable"
	"github.com/dolthub/shardquery/mesh"
)

func freePort(t *testing.T) int {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func dialMesh(t *testing.T, node int, port int, addrs []string) *mesh.MeshConn {
	mc, err := mesh.Dial3Phase(core.NewEmptyContext(), node, len(addrs), port, addrs)
	require.NoError(t, err)
	return mc
}

// TestExchangeGatherCollectsFromBothNodes exercises the GATHER mode
// end-to-end across two in-process "nodes" connected over real TCP
// loopback sockets: node 0 is the coordinator and should see its own
// local rows plus everything node 1 sends it.
func TestExchangeGatherCollectsFromBothNodes(t *testing.T) {
	p0, p1 := freePort(t), freePort(t)
	addrs := []string{fmt.Sprintf("127.0.0.1:%d", p0), fmt.Sprintf("127.0.0.1:%d", p1)}

	var wg sync.WaitGroup
	var mc0, mc1 *mesh.MeshConn
	wg.Add(2)
	go func() { defer wg.Done(); mc0 = dialMesh(t, 0, p0, addrs) }()
	go func() { defer wg.Done(); mc1 = dialMesh(t, 1, p1, addrs) }()
	wg.Wait()
	defer mc0.End()
	defer mc1.End()

	tbl0 := memtable.New("t", core.Schema{{Name: "id", Type: core.Int64}})
	tbl1 := memtable.New("t", core.Schema{{Name: "id", Type: core.Int64}})
	ctx := core.NewEmptyContext()
	tbl0.Insert(ctx, core.NewRow(int64(1)))
	tbl1.Insert(ctx, core.NewRow(int64(2)))

	ex0 := NewExchange(Gather, catalog.Uninitialized, 0, 2, 0, mc0, NewResolvedTable("t", tbl0))
	ex1 := NewExchange(Gather, catalog.Uninitialized, 1, 2, 0, mc1, NewResolvedTable("t", tbl1))

	var node1Rows []core.Row
	done1 := make(chan struct{})
	go func() {
		defer close(done1)
		iter, err := ex1.RowIter(ctx)
		require.NoError(t, err)
		node1Rows, _ = core.RowIterToRows(ctx, iter)
	}()

	iter0, err := ex0.RowIter(ctx)
	require.NoError(t, err)

	var got []core.Row
	for {
		row, err := iter0.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, row)
	}
	<-done1

	require.Len(t, got, 2)
	require.Empty(t, node1Rows)
}

// TestExchangeRescanRepeatsOutput exercises Testable Property #6
// (rescan): calling RowIter a second time on the same *Exchange instance
// must deliver the same multiset of tuples the second time, even though
// the first pass already drove every peer slot to "closed".
func TestExchangeRescanRepeatsOutput(t *testing.T) {
	p0, p1 := freePort(t), freePort(t)
	addrs := []string{fmt.Sprintf("127.0.0.1:%d", p0), fmt.Sprintf("127.0.0.1:%d", p1)}

	var wg sync.WaitGroup
	var mc0, mc1 *mesh.MeshConn
	wg.Add(2)
	go func() { defer wg.Done(); mc0 = dialMesh(t, 0, p0, addrs) }()
	go func() { defer wg.Done(); mc1 = dialMesh(t, 1, p1, addrs) }()
	wg.Wait()
	defer mc0.End()
	defer mc1.End()

	tbl0 := memtable.New("t", core.Schema{{Name: "id", Type: core.Int64}})
	tbl1 := memtable.New("t", core.Schema{{Name: "id", Type: core.Int64}})
	ctx := core.NewEmptyContext()
	tbl0.Insert(ctx, core.NewRow(int64(1)))
	tbl1.Insert(ctx, core.NewRow(int64(2)))

	ex0 := NewExchange(Gather, catalog.Uninitialized, 0, 2, 0, mc0, NewResolvedTable("t", tbl0))
	ex1 := NewExchange(Gather, catalog.Uninitialized, 1, 2, 0, mc1, NewResolvedTable("t", tbl1))

	runPass := func() []core.Row {
		var node1Rows []core.Row
		done1 := make(chan struct{})
		go func() {
			defer close(done1)
			iter, err := ex1.RowIter(ctx)
			require.NoError(t, err)
			node1Rows, _ = core.RowIterToRows(ctx, iter)
		}()

		iter0, err := ex0.RowIter(ctx)
		require.NoError(t, err)
		got, err := core.RowIterToRows(ctx, iter0)
		require.NoError(t, err)
		<-done1
		require.Empty(t, node1Rows)
		return got
	}

	first := runPass()
	require.Len(t, first, 2)

	second := runPass()
	require.Len(t, second, 2, "a rescan must deliver the same multiset of tuples as the first pass")
}
