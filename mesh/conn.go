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

package mesh

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/dolthub/shardquery/core"
)

// inboundEvent is what a peer's reader goroutine pushes onto its channel:
// either a decoded row, or a terminal protocol error. A closed channel
// with no pending event is the close signal itself.
type inboundEvent struct {
	row core.Row
	err error
}

// MeshConn is one Exchange instance's full-mesh connection table: one
// outbound and one inbound stream per peer node, bidirectional with
// itself excluded (§4.2, §4.3).
type MeshConn struct {
	myNode int
	n      int

	mu     sync.Mutex
	w      []net.Conn        // outbound sockets, nil for myNode
	wOpen  []bool             // whether a close sentinel is still owed on w[p]
	r      []net.Conn         // inbound sockets, nil for myNode
	rOpen  []bool             // whether r[p]'s reader goroutine is still live
	events []chan inboundEvent // one per peer, fed by that peer's reader goroutine

	listener net.Listener
}

// Dial3Phase performs the handshake described in §4.3: each node opens a
// listening socket, dials every other node as "connect-out", and accepts
// n-1 inbound connections as "accept-and-identify" (the first 4 bytes
// received on an inbound socket are the dialer's node id, sent
// immediately after connect), and the call returns once all n-1 peer
// pairs have exactly one outbound and one inbound stream open.
//
// peerAddrs[p] is the "host:port" the Exchange service on node p is
// listening on; peerAddrs[myNode] is ignored.
func Dial3Phase(ctx *core.Context, myNode, n, listenPort int, peerAddrs []string) (*MeshConn, error) {
	if len(peerAddrs) != n {
		return nil, core.ErrConfig.New(fmt.Sprintf("mesh: expected %d peer addresses, got %d", n, len(peerAddrs)))
	}

	mc := &MeshConn{
		myNode: myNode,
		n:      n,
		w:      make([]net.Conn, n),
		wOpen:  make([]bool, n),
		r:      make([]net.Conn, n),
		rOpen:  make([]bool, n),
		events: make([]chan inboundEvent, n),
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", listenPort))
	if err != nil {
		return nil, core.ErrPeerUnreachable.New(fmt.Sprintf("mesh: listen on port %d: %s", listenPort, err))
	}
	mc.listener = ln

	var wg sync.WaitGroup
	errs := make(chan error, 2*n)

	// Accept side: n-1 inbound connections, identified by the 4-byte
	// node id the dialer sends right after connecting.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n-1; i++ {
			conn, err := ln.Accept()
			if err != nil {
				errs <- core.ErrPeerUnreachable.New("mesh: accept: " + err.Error())
				return
			}
			idbuf := make([]byte, 4)
			if _, err := ioReadFull(conn, idbuf); err != nil {
				errs <- core.ErrProtocol.New("mesh: reading peer id: " + err.Error())
				continue
			}
			peer := int(binary.BigEndian.Uint32(idbuf))
			mc.mu.Lock()
			mc.r[peer] = conn
			mc.rOpen[peer] = true
			mc.events[peer] = make(chan inboundEvent, 16)
			mc.mu.Unlock()
			go mc.readLoop(peer)
		}
	}()

	// Connect-out side: dial every other node and announce ourselves.
	for p := 0; p < n; p++ {
		if p == myNode {
			continue
		}
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", peerAddrs[p])
			if err != nil {
				errs <- core.ErrPeerUnreachable.New(fmt.Sprintf("mesh: dial node %d at %s: %s", p, peerAddrs[p], err))
				return
			}
			idbuf := make([]byte, 4)
			binary.BigEndian.PutUint32(idbuf, uint32(myNode))
			if err := writeFull(conn, idbuf); err != nil {
				errs <- core.ErrPeerUnreachable.New("mesh: announcing to node " + fmt.Sprint(p) + ": " + err.Error())
				return
			}
			mc.mu.Lock()
			mc.w[p] = conn
			mc.wOpen[p] = true
			mc.mu.Unlock()
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		mc.End()
		return nil, err
	}

	return mc, nil
}

// readLoop is the reader goroutine for one peer's inbound stream: it
// performs blocking frame reads and republishes each as an inboundEvent,
// closing the peer's channel once the stream ends (EOF, close sentinel,
// or a framing error), which is how recv_any (§4.3) learns the peer has
// nothing more to offer without itself ever blocking.
func (mc *MeshConn) readLoop(peer int) {
	mc.mu.Lock()
	conn := mc.r[peer]
	ch := mc.events[peer]
	mc.mu.Unlock()

	for {
		row, kind, err := readFrame(conn)
		switch {
		case err != nil:
			ch <- inboundEvent{err: err}
			close(ch)
			mc.markClosed(peer)
			return
		case kind == readClose, kind == readEOF:
			close(ch)
			mc.markClosed(peer)
			return
		default:
			ch <- inboundEvent{row: row}
		}
	}
}

func (mc *MeshConn) markClosed(peer int) {
	mc.mu.Lock()
	mc.rOpen[peer] = false
	mc.mu.Unlock()
}

// Reopen marks every peer slot open again for a new Exchange pass (§4.6:
// "Rescan" — "mark all r/w slots 'open' again"). The underlying sockets
// from Dial3Phase are never closed by a pass ending normally (SendClose
// only ever writes a sentinel byte; readLoop only retires the logical
// stream, not the connection), so Reopen's only job is to restart the
// one piece of state that does not survive a pass on its own: each
// peer's reader goroutine, which already returned after observing the
// previous pass's close sentinel, and the events channel it fed, which
// it already closed.
func (mc *MeshConn) Reopen() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for p := 0; p < mc.n; p++ {
		if p == mc.myNode {
			continue
		}
		if mc.w[p] != nil {
			mc.wOpen[p] = true
		}
		if mc.r[p] != nil {
			mc.rOpen[p] = true
			mc.events[p] = make(chan inboundEvent, 16)
			go mc.readLoop(p)
		}
	}
}

// Send writes one tuple to peer p's outbound stream.
func (mc *MeshConn) Send(p int, row core.Row) error {
	mc.mu.Lock()
	conn := mc.w[p]
	mc.mu.Unlock()
	return writeTuple(conn, row)
}

// SendClose writes the close sentinel to peer p's outbound stream,
// without closing the socket (§4.6: a rescan may still follow).
func (mc *MeshConn) SendClose(p int) error {
	mc.mu.Lock()
	conn := mc.w[p]
	open := mc.wOpen[p]
	mc.mu.Unlock()
	if !open {
		return nil
	}
	if err := writeClose(conn); err != nil {
		return err
	}
	mc.mu.Lock()
	mc.wOpen[p] = false
	mc.mu.Unlock()
	return nil
}

// SendCloseAll writes the close sentinel to every live outbound peer.
func (mc *MeshConn) SendCloseAll() error {
	var merr error
	for p := 0; p < mc.n; p++ {
		if p == mc.myNode {
			continue
		}
		if err := mc.SendClose(p); err != nil {
			merr = appendErr(merr, err)
		}
	}
	return merr
}

// End tears down every socket this MeshConn owns: the listener and both
// directions for every peer. Safe to call more than once.
func (mc *MeshConn) End() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.listener != nil {
		mc.listener.Close()
		mc.listener = nil
	}
	for p := 0; p < mc.n; p++ {
		if mc.w[p] != nil {
			mc.w[p].Close()
			mc.w[p] = nil
		}
		if mc.r[p] != nil {
			mc.r[p].Close()
			mc.r[p] = nil
		}
	}
}

func ioReadFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
