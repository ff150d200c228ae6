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

// Package session implements per-backend Session/Coordinator state (C7):
// who coordinates the current query, the control channels the
// coordinator opens to every peer on first use, and the recursion guard
// that keeps internal meta-calls from looking like user queries.
package session

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	uuid "github.com/satori/go.uuid"

	"github.com/dolthub/shardquery/controlchannel"
	"github.com/dolthub/shardquery/core"
)

// NoCoordinator is coord_node's sentinel value before any query has
// established one (§4.7).
const NoCoordinator = -1

// Session is one backend's mutable per-connection state.
type Session struct {
	myNode        int
	nnodes        int
	hosts         []string
	myServicePort int
	logger        *logrus.Entry

	mu          sync.Mutex
	coordNode   int
	initialized bool
	queryID     uuid.UUID

	peers map[int]*controlchannel.Client

	// serviceServer is this node's own service-socket listener, already
	// running (every node may be asked to coordinate a query, so every
	// node accepts peers' back-channel connections regardless of its
	// current role).
	serviceServer *controlchannel.ServiceServer
	// serviceClient is this node's open back-channel to whoever
	// currently coordinates, established by AcceptSetQueryID.
	serviceClient *controlchannel.ServiceClient
}

// New creates a session for a node that has not yet coordinated or
// participated in any query. hosts is indexed by node id and supplies
// the host half of every peer's "host:port" addresses; myServicePort is
// this node's own service-socket port, sent to peers via set_query_id
// whenever this node coordinates; svc is this node's already-listening
// service-socket server (controlchannel.ServeService).
func New(myNode, nnodes int, hosts []string, myServicePort int, svc *controlchannel.ServiceServer, logger *logrus.Entry) *Session {
	return &Session{
		myNode:        myNode,
		nnodes:        nnodes,
		hosts:         hosts,
		myServicePort: myServicePort,
		logger:        logger,
		coordNode:     NoCoordinator,
		peers:         make(map[int]*controlchannel.Client),
		serviceServer: svc,
	}
}

func (s *Session) CoordNode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coordNode
}

func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// BeginUserQuery transitions this session into coordinator role on
// receipt of a client query, opening a control channel connection to
// every peer on the first query of a session (§4.7: "On the first query
// of a session the coordinator also opens the C2 control channels to
// every peer.") and sending set_query_id to every peer on every query,
// carrying this node's service-socket port so each peer knows where to
// report its result back to (§4.2).
func (s *Session) BeginUserQuery(peerAddrs []string) (*core.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qid := uuid.NewV4()
	s.queryID = qid
	s.coordNode = s.myNode
	s.initialized = true

	if len(s.peers) == 0 {
		for p, addr := range peerAddrs {
			if p == s.myNode {
				continue
			}
			client, err := controlchannel.Dial(addr)
			if err != nil {
				return nil, err
			}
			s.peers[p] = client
		}
	}

	for p, client := range s.peers {
		if err := client.SetQueryID(qid, s.myNode, s.myServicePort); err != nil {
			return nil, core.ErrPeerUnreachable.New(fmt.Sprintf("session: set_query_id to node %d: %s", p, err))
		}
	}

	ctx := core.NewEmptyContext()
	ctx.QueryID = qid
	ctx.MyNode = s.myNode
	ctx.Logger = s.logger.WithField("query_id", qid.String())

	s.logger.WithFields(logrus.Fields{"query_id": qid.String(), "coord_node": s.myNode}).
		Info("session: began coordinating query")
	return ctx, nil
}

// Peer returns the persistent control channel connection to peer p,
// established by BeginUserQuery.
func (s *Session) Peer(p int) (*controlchannel.Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.peers[p]
	return c, ok
}

// AcceptSetQueryID implements the peer side of set_query_id: it records
// who is coordinating the next query, flips initialized false (since
// this call itself must not look like a user query to downstream
// recursion guards, §4.7), and dials the new coordinator's service
// socket so this node can later report its portion of the query's
// outcome via SignalQueryResult (§4.2). A previous coordinator's
// back-channel, if any, is closed first.
func (s *Session) AcceptSetQueryID(coordNode int, queryID uuid.UUID, coordServicePort int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.serviceClient != nil {
		s.serviceClient.Close()
		s.serviceClient = nil
	}

	addr := fmt.Sprintf("%s:%d", s.hosts[coordNode], coordServicePort)
	client, err := controlchannel.DialService(addr, s.myNode)
	if err != nil {
		return err
	}
	s.serviceClient = client

	s.coordNode = coordNode
	s.queryID = queryID
	s.initialized = false
	s.logger.WithFields(logrus.Fields{"query_id": queryID.String(), "coord_node": coordNode}).
		Info("session: accepted coordinator for next query")
	return nil
}

// SignalQueryResult reports this node's portion of the current query's
// outcome (nil for success) to whoever coordinates it, over the
// back-channel AcceptSetQueryID established.
func (s *Session) SignalQueryResult(queryErr error) error {
	s.mu.Lock()
	client := s.serviceClient
	s.mu.Unlock()
	if client == nil {
		return core.ErrProtocol.New("session: no service client to signal a result on")
	}
	return client.SignalResult(queryErr)
}

// AwaitPeerResults blocks, as coordinator, for every named peer's
// completion or error signal for the current query (§4.2: "drain all
// peers' check_query_result"), aggregating any reported errors.
func (s *Session) AwaitPeerResults(peers []int) error {
	s.mu.Lock()
	svc := s.serviceServer
	qid := s.queryID
	s.mu.Unlock()

	var merr error
	for _, p := range peers {
		if p == s.myNode {
			continue
		}
		if err := svc.CheckQueryResult(p, qid); err != nil {
			merr = appendErr(merr, err)
		}
	}
	return merr
}

// EndQuery resets coordinator state once the query is fully drained,
// mirroring the way a PostgreSQL backend returns to idle between
// statements.
func (s *Session) EndQuery() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	if s.myNode == s.coordNode {
		s.coordNode = NoCoordinator
	}
}

// Close tears down every control channel this session opened, plus any
// open service-socket back-channel to a coordinator.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var merr error
	for _, c := range s.peers {
		if err := c.Close(); err != nil {
			merr = appendErr(merr, err)
		}
	}
	if s.serviceClient != nil {
		if err := s.serviceClient.Close(); err != nil {
			merr = appendErr(merr, err)
		}
	}
	return merr
}
