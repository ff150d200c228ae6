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

package session

import (
	"net"
	"sync"
	"testing"

	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/dolthub/shardquery/controlchannel"
)

func TestCoordNodeStartsUnset(t *testing.T) {
	s := New(0, 2, []string{"", ""}, 0, nil, logrus.NewEntry(logrus.New()))
	require.Equal(t, NoCoordinator, s.CoordNode())
	require.False(t, s.Initialized())
}

func TestBeginUserQueryBecomesCoordinator(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	go controlchannel.Serve(ln, &noopHandler{}, nil)

	s := New(0, 2, []string{"", ""}, 0, nil, logrus.NewEntry(logrus.New()))
	ctx, err := s.BeginUserQuery([]string{"", ln.Addr().String()})
	require.NoError(t, err)
	require.Equal(t, 0, s.CoordNode())
	require.True(t, s.Initialized())
	require.NotEqual(t, uuid.Nil, ctx.QueryID)

	_, ok := s.Peer(1)
	require.True(t, ok)
}

func TestBeginUserQuerySendsSetQueryIDToPeer(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	h := &noopHandler{coordNode: -1}
	go controlchannel.Serve(ln, h, nil)

	s := New(0, 2, []string{"", ""}, 7777, nil, logrus.NewEntry(logrus.New()))
	_, err = s.BeginUserQuery([]string{"", ln.Addr().String()})
	require.NoError(t, err)

	// Serve dispatches requests sequentially per connection, and
	// BeginUserQuery already returned, so by the time SetQueryID's
	// caller (the coordinator) moves on the peer has already processed
	// the request; no polling needed.
	require.Equal(t, 0, h.sawCoordNode())
}

// TestAcceptSetQueryIDDialsCoordinatorService exercises the peer side of
// the service-socket back-channel end to end: AcceptSetQueryID must
// actually dial the coordinator's service socket (not merely record the
// port), and SignalQueryResult must deliver over that connection.
func TestAcceptSetQueryIDDialsCoordinatorService(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	svc := controlchannel.ServeService(ln)
	defer svc.Close()

	host, _, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	s := New(1, 2, []string{host, host}, 0, nil, logrus.NewEntry(logrus.New()))
	qid := uuid.NewV4()
	require.NoError(t, s.AcceptSetQueryID(0, qid, port))
	require.Equal(t, 0, s.CoordNode())
	require.False(t, s.Initialized())

	done := make(chan error, 1)
	go func() { done <- svc.CheckQueryResult(1, qid) }()
	require.NoError(t, s.SignalQueryResult(nil))
	require.NoError(t, <-done)
}

// TestAwaitPeerResultsAggregatesPeerSignal exercises the coordinator
// side: AwaitPeerResults must block on a peer's signal, skip the
// coordinator's own node id, and return nil when the peer reports success.
func TestAwaitPeerResultsAggregatesPeerSignal(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	svc := controlchannel.ServeService(ln)
	defer svc.Close()

	host, _, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	coord := New(0, 2, []string{host, host}, port, svc, logrus.NewEntry(logrus.New()))
	peer := New(1, 2, []string{host, host}, 0, nil, logrus.NewEntry(logrus.New()))

	qid := uuid.NewV4()
	coord.queryID = qid
	require.NoError(t, peer.AcceptSetQueryID(0, qid, port))

	go func() { _ = peer.SignalQueryResult(nil) }()
	require.NoError(t, coord.AwaitPeerResults([]int{0, 1}))
}

type noopHandler struct {
	mu        sync.Mutex
	coordNode int
}

func (h *noopHandler) SetQueryID(_ uuid.UUID, coordNode, _ int) error {
	h.mu.Lock()
	h.coordNode = coordNode
	h.mu.Unlock()
	return nil
}
func (h *noopHandler) LaunchQuery(uuid.UUID, string) error      { return nil }
func (h *noopHandler) IsLocalValue(string, int64) (bool, error) { return false, nil }

func (h *noopHandler) sawCoordNode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.coordNode
}
