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

package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dolthub/shardquery/catalog"
	"github.com/dolthub/shardquery/portpool"
	"github.com/dolthub/shardquery/session"
)

// Introspection is the read-only HTTP surface (§6: "never on the query
// path") exposing current node/catalog/port-pool state.
type Introspection struct {
	Cfg     *Config
	Session *session.Session
	Catalog *catalog.Catalog
	Pool    *portpool.Pool
}

// Router builds the gorilla/mux router serving /status, /catalog, and
// /portpool.
func (in *Introspection) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/status", in.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/catalog", in.handleCatalog).Methods(http.MethodGet)
	r.HandleFunc("/portpool", in.handlePortPool).Methods(http.MethodGet)
	return r
}

func (in *Introspection) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := struct {
		Node        int  `json:"node"`
		NNodes      int  `json:"nnodes"`
		CoordNode   int  `json:"coord_node"`
		Initialized bool `json:"initialized"`
	}{
		Node:        in.Cfg.Node,
		NNodes:      in.Cfg.NNodes,
		CoordNode:   in.Session.CoordNode(),
		Initialized: in.Session.Initialized(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (in *Introspection) handleCatalog(w http.ResponseWriter, r *http.Request) {
	snapshot, err := in.Catalog.Snapshot()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(snapshot)
}

func (in *Introspection) handlePortPool(w http.ResponseWriter, r *http.Request) {
	status := struct {
		Available int `json:"available"`
	}{Available: in.Pool.Len()}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
