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
	"encoding/binary"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"gopkg.in/yaml.v2"

	"github.com/dolthub/shardquery/core"
)

var bucketName = []byte("relsfrag")

// Row is one persisted relsfrag row.
type Row struct {
	Relname string `yaml:"relname"`
	Attno   int    `yaml:"attno"`
	FuncID  FuncID `yaml:"func_id"`
}

// Catalog is the process-wide Fragmentation Catalog. A single relsfrag
// table, bolt-backed for crash-durable persistence, read through an
// insertion-ordered in-process cache that Reload refreshes (§4.4).
type Catalog struct {
	db *bolt.DB

	mu    sync.RWMutex
	cache []Row
}

// Open opens (creating if necessary) the catalog's backing bolt database
// at path.
func Open(path string) (*Catalog, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, core.ErrConfig.New("cannot open catalog store: " + err.Error())
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := &Catalog{db: db}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// AddTable appends a new catalog row. A duplicate relname is rejected and
// ignored, mirroring the SQL layer's uniqueness enforcement on CREATE
// TABLE (§4.4): the insert is rolled back rather than erroring loudly,
// since CREATE TABLE IF NOT EXISTS-style callers rely on that.
func (c *Catalog) AddTable(relname string, spec FragSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.cache {
		if r.Relname == relname {
			return nil
		}
	}

	row := Row{Relname: relname, Attno: spec.Attno, FuncID: spec.FuncID}
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		key, err := b.NextSequence()
		if err != nil {
			return err
		}
		buf, err := yaml.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put(sequenceKey(key), buf)
	})
	if err != nil {
		return err
	}

	c.cache = append(c.cache, row)
	return nil
}

// Reload re-reads relsfrag from the bolt store into the in-process,
// insertion-ordered cache. Open calls it once; no other code in this
// module calls it, so Lookup answers from the rows loaded at Open plus
// those AddTable has appended since.
func (c *Catalog) Reload() error {
	var rows []Row
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.ForEach(func(k, v []byte) error {
			var row Row
			if err := yaml.Unmarshal(v, &row); err != nil {
				return err
			}
			rows = append(rows, row)
			return nil
		})
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.cache = rows
	c.mu.Unlock()
	return nil
}

// Lookup finds a relation's FragSpec by linear scan, per §4.4 ("Lookup is
// linear by relname").
func (c *Catalog) Lookup(relname string) (FragSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, r := range c.cache {
		if r.Relname == relname {
			return FragSpec{Attno: r.Attno, FuncID: r.FuncID}, true
		}
	}
	return FragSpec{}, false
}

// Snapshot renders the current in-process cache as YAML, for operational
// inspection (e.g. the /catalog HTTP endpoint). It is never the source of
// truth; Reload/Lookup always answer from the bolt-backed cache.
func (c *Catalog) Snapshot() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return yaml.Marshal(c.cache)
}

func sequenceKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
