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
	"github.com/sirupsen/logrus"
	uuid "github.com/satori/go.uuid"

	"github.com/dolthub/shardquery/catalog"
	"github.com/dolthub/shardquery/session"
)

// ControlHandler implements controlchannel.Handler, dispatching the two
// control-plane callables (§6) onto this node's session and catalog.
type ControlHandler struct {
	Session *session.Session
	Catalog *catalog.Catalog
	MyNode  int
	NNodes  int
	Logger  *logrus.Entry
}

// SetQueryID accepts the next query's coordinator and dials its
// service-socket back-channel, carried on coordControlPort (§4.2).
func (h *ControlHandler) SetQueryID(queryID uuid.UUID, coordNode, coordControlPort int) error {
	return h.Session.AcceptSetQueryID(coordNode, queryID, coordControlPort)
}

// LaunchQuery records that a query has been dispatched to this backend.
// This module stops short of parsing and planning SQL text itself
// (§1's scope boundary): the embedding application is expected to
// construct the plan tree (via plan/rewrite) and drive it once
// LaunchQuery has recorded the hand-off.
func (h *ControlHandler) LaunchQuery(queryID uuid.UUID, sql string) error {
	h.Logger.WithFields(logrus.Fields{"query_id": queryID.String()}).Info("server: launch_query received")
	return nil
}

func (h *ControlHandler) IsLocalValue(relname string, value int64) (bool, error) {
	spec, ok := h.Catalog.Lookup(relname)
	if !ok {
		return false, nil
	}
	dest, err := catalog.Route(spec, value, h.MyNode, h.NNodes, h.Session.CoordNode())
	if err != nil {
		return false, err
	}
	return dest == h.MyNode, nil
}
