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

// Package server wires the cluster's components together for one node:
// config loading, the operational HTTP introspection surface, and the
// control-plane handler that dispatches set_query_id/launch_query/
// isLocalValue onto the session and catalog.
package server

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/dolthub/shardquery/core"
)

// Config is the process's static cluster configuration (§6), loaded from
// a TOML file at startup.
type Config struct {
	Node   int      `toml:"node"`
	NNodes int      `toml:"nnodes"`
	Hosts  []string `toml:"hosts"`
	Ports  []int    `toml:"ports"`
	EPorts int      `toml:"eports"`

	// CatalogPath is this module's own addition: where the bolt-backed
	// Fragmentation Catalog lives on disk (not in spec.md's table, since
	// the original prototype keeps it inside the database cluster
	// itself rather than as a standalone file).
	CatalogPath string `toml:"catalog_path"`
	// HTTPAddr is the operational introspection listener address.
	HTTPAddr string `toml:"http_addr"`
}

// LoadConfig reads and validates a TOML configuration file.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, core.ErrConfig.New("reading config: " + err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the bounds spec.md's configuration table specifies.
func (c *Config) Validate() error {
	if c.Node < 0 || c.Node > 1023 {
		return core.ErrConfig.New(fmt.Sprintf("node must be in [0, 1023], got %d", c.Node))
	}
	if c.NNodes < 2 || c.NNodes > 1024 {
		return core.ErrConfig.New(fmt.Sprintf("nnodes must be in [2, 1024], got %d", c.NNodes))
	}
	if len(c.Hosts) != c.NNodes {
		return core.ErrConfig.New(fmt.Sprintf("hosts has %d entries, expected nnodes=%d", len(c.Hosts), c.NNodes))
	}
	if len(c.Ports) != c.NNodes {
		return core.ErrConfig.New(fmt.Sprintf("ports has %d entries, expected nnodes=%d", len(c.Ports), c.NNodes))
	}
	if c.EPorts < 1 || c.EPorts > 10000 {
		return core.ErrConfig.New(fmt.Sprintf("eports must be in [1, 10000], got %d", c.EPorts))
	}
	if c.Node >= len(c.Hosts) {
		return core.ErrConfig.New(fmt.Sprintf("node %d has no matching hosts entry", c.Node))
	}
	return nil
}

// SQLAddr is the "host:port" this node's peers connect to for the
// control channel.
func (c *Config) SQLAddr(node int) string {
	return fmt.Sprintf("%s:%d", c.Hosts[node], c.Ports[node])
}

// serviceOffset separates a node's service-socket port from its SQL
// control-channel port, the same fixed-offset convention
// cmd/shardqueryd uses to derive the Exchange port pool's base
// (ports[node]+1000) from the same `ports` entry. The pool itself is
// further offset by node*eports, so it spans ports[node]+1000+node*eports
// up to ports[node]+1000+(node+1)*eports-1; the service port lies outside
// that range only while (node+1)*eports <= 19000.
const serviceOffset = 20000

// ServicePort is this node's service-socket listen port, derived from
// its control-channel port by a fixed offset so spec.md's configuration
// table (§6) need not grow a new per-node option for it.
func (c *Config) ServicePort(node int) int {
	return c.Ports[node] + serviceOffset
}

// ServiceAddr is the "host:port" this node's peers dial to open their
// service-socket back-channel to it when it coordinates a query.
func (c *Config) ServiceAddr(node int) string {
	return fmt.Sprintf("%s:%d", c.Hosts[node], c.ServicePort(node))
}
