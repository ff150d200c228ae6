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

package controlchannel

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/yamux"
	uuid "github.com/satori/go.uuid"

	"github.com/dolthub/shardquery/core"
)

// ServiceServer runs on the coordinator. It accepts one raw TCP
// connection per peer (each peer dials in once, per §4.2's "causes each
// peer to open a service socket back to the coordinator"), multiplexes
// it with yamux, and hands out one logical stream per in-flight query's
// completion signal.
type ServiceServer struct {
	ln net.Listener

	mu       sync.Mutex
	sessions map[int]*yamux.Session
}

// ServeService starts accepting peer service-socket connections on ln.
// Each connecting peer announces its node id as the first 4 bytes before
// the yamux handshake begins, mirroring the mesh's own identify-by-id
// convention (§4.3).
func ServeService(ln net.Listener) *ServiceServer {
	s := &ServiceServer{ln: ln, sessions: make(map[int]*yamux.Session)}
	go s.acceptLoop()
	return s
}

func (s *ServiceServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.identify(conn)
	}
}

func (s *ServiceServer) identify(conn net.Conn) {
	idbuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, idbuf); err != nil {
		conn.Close()
		return
	}
	peer := int(binary.BigEndian.Uint32(idbuf))

	session, err := yamux.Server(conn, yamux.DefaultConfig())
	if err != nil {
		conn.Close()
		return
	}

	s.mu.Lock()
	s.sessions[peer] = session
	s.mu.Unlock()
}

// QueryResult is what a peer reports over its per-query service stream.
type QueryResult struct {
	Err string
}

// CheckQueryResult blocks for peer's next completion/error signal for
// queryID, draining it and returning any reported error (§4.2). The
// queryID itself is carried implicitly: one stream is opened per
// completion signal and this call consumes exactly one.
func (s *ServiceServer) CheckQueryResult(peer int, queryID uuid.UUID) error {
	session := s.waitForSession(peer)
	if session == nil {
		return core.ErrPeerUnreachable.New(fmt.Sprintf("control channel: no service session for peer %d", peer))
	}

	stream, err := session.Accept()
	if err != nil {
		return core.ErrPeerUnreachable.New("control channel: service stream: " + err.Error())
	}
	defer stream.Close()

	var result QueryResult
	if err := readMessage(stream, &result); err != nil {
		return core.ErrProtocol.New("control channel: reading query result: " + err.Error())
	}
	if result.Err != "" {
		return core.ErrProtocol.New("peer reported: " + result.Err)
	}
	return nil
}

// waitForSession tolerates the brief window between a peer's service
// connection arriving at the listener and its identify handshake
// completing; set_query_id (§4.2) happens before any query result could
// possibly be ready, so in practice this never retries more than once.
func (s *ServiceServer) waitForSession(peer int) *yamux.Session {
	for i := 0; i < 50; i++ {
		s.mu.Lock()
		session := s.sessions[peer]
		s.mu.Unlock()
		if session != nil {
			return session
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func (s *ServiceServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.Close()
	}
	return s.ln.Close()
}

// ServiceClient runs on every peer. It dials the coordinator's service
// port once per session and opens one yamux stream per query to report
// that query's outcome.
type ServiceClient struct {
	session *yamux.Session
}

// DialService connects to the coordinator's service listener and
// announces myNode as the first 4 bytes, then begins a yamux client
// session multiplexed over that single connection.
func DialService(addr string, myNode int) (*ServiceClient, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, core.ErrPeerUnreachable.New("control channel: dial service: " + err.Error())
	}

	idbuf := make([]byte, 4)
	binary.BigEndian.PutUint32(idbuf, uint32(myNode))
	if _, err := conn.Write(idbuf); err != nil {
		conn.Close()
		return nil, core.ErrPeerUnreachable.New("control channel: announcing to service: " + err.Error())
	}

	session, err := yamux.Client(conn, yamux.DefaultConfig())
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &ServiceClient{session: session}, nil
}

// SignalResult opens a fresh stream and reports queryErr (nil for
// success) to the coordinator.
func (s *ServiceClient) SignalResult(queryErr error) error {
	stream, err := s.session.Open()
	if err != nil {
		return core.ErrPeerUnreachable.New("control channel: opening result stream: " + err.Error())
	}
	defer stream.Close()

	result := QueryResult{}
	if queryErr != nil {
		result.Err = queryErr.Error()
	}
	return writeMessage(stream, result)
}

func (s *ServiceClient) Close() error {
	return s.session.Close()
}
