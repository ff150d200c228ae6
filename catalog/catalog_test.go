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

package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	cat, err := Open(filepath.Join(t.TempDir(), "relsfrag.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	return cat
}

func TestLookupMissingRelationReturnsFalse(t *testing.T) {
	cat := openTestCatalog(t)
	_, ok := cat.Lookup("widgets")
	require.False(t, ok)
}

func TestAddTableThenLookup(t *testing.T) {
	cat := openTestCatalog(t)
	require.NoError(t, cat.AddTable("widgets", FragSpec{Attno: 2, FuncID: HASH}))

	spec, ok := cat.Lookup("widgets")
	require.True(t, ok)
	require.Equal(t, FragSpec{Attno: 2, FuncID: HASH}, spec)
}

func TestAddTableDuplicateRelnameIgnored(t *testing.T) {
	cat := openTestCatalog(t)
	require.NoError(t, cat.AddTable("widgets", FragSpec{Attno: 1, FuncID: MODULO}))
	require.NoError(t, cat.AddTable("widgets", FragSpec{Attno: 2, FuncID: HASH}))

	spec, ok := cat.Lookup("widgets")
	require.True(t, ok)
	require.Equal(t, FragSpec{Attno: 1, FuncID: MODULO}, spec)
}

func TestReloadSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relsfrag.db")

	cat, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, cat.AddTable("widgets", FragSpec{Attno: 1, FuncID: MODULO}))
	require.NoError(t, cat.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	spec, ok := reopened.Lookup("widgets")
	require.True(t, ok)
	require.Equal(t, FragSpec{Attno: 1, FuncID: MODULO}, spec)
}

func TestSnapshotContainsAddedTables(t *testing.T) {
	cat := openTestCatalog(t)
	require.NoError(t, cat.AddTable("widgets", FragSpec{Attno: 1, FuncID: MODULO}))

	out, err := cat.Snapshot()
	require.NoError(t, err)
	require.Contains(t, string(out), "widgets")
}

func TestRouteModuloIsDeterministic(t *testing.T) {
	spec := FragSpec{Attno: 1, FuncID: MODULO}
	dest, err := Route(spec, int64(7), 0, 3, 0)
	require.NoError(t, err)
	require.Equal(t, 1, dest)

	dest2, err := Route(spec, int64(7), 2, 3, 0)
	require.NoError(t, err)
	require.Equal(t, dest, dest2, "routing depends only on the value and node count")
}

func TestRouteGatherAlwaysReturnsCoordinator(t *testing.T) {
	spec := FragSpec{Attno: 1, FuncID: GATHER}
	dest, err := Route(spec, int64(99), 2, 4, 3)
	require.NoError(t, err)
	require.Equal(t, 3, dest)
}

func TestRouteUninitializedReturnsMyNode(t *testing.T) {
	dest, err := Route(Uninitialized, int64(99), 2, 4, 0)
	require.NoError(t, err)
	require.Equal(t, 2, dest)
}
