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

// Package controlchannel implements the Control Channel (C2): the
// coordinator's persistent per-peer connection carrying set_query_id and
// launch_query, plus the yamux-multiplexed service socket peers use to
// signal completion and errors back.
package controlchannel

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	uuid "github.com/satori/go.uuid"
	"gopkg.in/vmihailenco/msgpack.v2"

	"github.com/dolthub/shardquery/core"
)

// OpCode names a control-plane callable (§6: "Control-plane callables").
type OpCode string

const (
	OpSetQueryID   OpCode = "set_query_id"
	OpLaunchQuery  OpCode = "launch_query"
	OpIsLocalValue OpCode = "is_local_value"
)

// Request is the single wire shape every control-plane call marshals to;
// unused fields for a given Op are left zero.
type Request struct {
	Op               OpCode
	QueryID          string
	CoordNode        int
	CoordControlPort int
	SQL              string
	Relname          string
	Value            int64
}

// Response answers a Request. LaunchQuery never provokes one: the
// coordinator sends it and moves on (§4.2: "asynchronously, send, do not
// wait").
type Response struct {
	Ok   bool
	Bool bool
	Err  string
}

func writeMessage(w io.Writer, v interface{}) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(body)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func readMessage(r io.Reader, v interface{}) error {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return err
	}
	body := make([]byte, binary.BigEndian.Uint32(header))
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	return msgpack.Unmarshal(body, v)
}

// Client is the coordinator's stub for one peer's request/response
// connection, opened once per session and reused for every query (§4.2).
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

// Dial opens the persistent connection to a peer's control-plane
// listener. A failure here is the spec's CONNECTION_BAD: fatal to the
// query that needed it (§4.2).
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, core.ErrPeerUnreachable.New(fmt.Sprintf("control channel: dial %s: %s", addr, err))
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := writeMessage(c.conn, req); err != nil {
		return Response{}, core.ErrPeerUnreachable.New("control channel: " + err.Error())
	}
	var resp Response
	if err := readMessage(c.conn, &resp); err != nil {
		return Response{}, core.ErrPeerUnreachable.New("control channel: " + err.Error())
	}
	if !resp.Ok {
		return Response{}, core.ErrProtocol.New("control channel: peer rejected request: " + resp.Err)
	}
	return resp, nil
}

// SetQueryID tells the peer who coordinates the next query and where its
// service socket should connect back to (§6).
func (c *Client) SetQueryID(queryID uuid.UUID, coordNode, coordControlPort int) error {
	_, err := c.call(Request{
		Op:               OpSetQueryID,
		QueryID:          queryID.String(),
		CoordNode:        coordNode,
		CoordControlPort: coordControlPort,
	})
	return err
}

// LaunchQuery ships the query text. Per §4.2 this is fire-and-forget: no
// response is read.
func (c *Client) LaunchQuery(queryID uuid.UUID, sql string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := writeMessage(c.conn, Request{Op: OpLaunchQuery, QueryID: queryID.String(), SQL: sql}); err != nil {
		return core.ErrPeerUnreachable.New("control channel: launch_query: " + err.Error())
	}
	return nil
}

// IsLocalValue asks a peer whether value routes to it for relname,
// supporting LOCAL-predicate pushdown (§6).
func (c *Client) IsLocalValue(relname string, value int64) (bool, error) {
	resp, err := c.call(Request{Op: OpIsLocalValue, Relname: relname, Value: value})
	if err != nil {
		return false, err
	}
	return resp.Bool, nil
}

// Handler implements the peer side of every control-plane callable.
type Handler interface {
	SetQueryID(queryID uuid.UUID, coordNode, coordControlPort int) error
	LaunchQuery(queryID uuid.UUID, sql string) error
	IsLocalValue(relname string, value int64) (bool, error)
}

// Serve accepts control-plane connections and dispatches each request on
// its own goroutine per connection, sequentially per connection (the
// coordinator only ever has one request in flight per peer at a time).
func Serve(ln net.Listener, h Handler, logger logFn) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go serveConn(conn, h, logger)
	}
}

// logFn lets callers plug in a structured logger without this package
// importing a concrete session type; server wires *logrus.Entry.Errorf in.
type logFn func(format string, args ...interface{})

func serveConn(conn net.Conn, h Handler, logf logFn) {
	defer conn.Close()
	for {
		var req Request
		if err := readMessage(conn, &req); err != nil {
			return
		}

		switch req.Op {
		case OpSetQueryID:
			qid, err := uuid.FromString(req.QueryID)
			if err == nil {
				err = h.SetQueryID(qid, req.CoordNode, req.CoordControlPort)
			}
			respond(conn, err, logf)
		case OpLaunchQuery:
			qid, err := uuid.FromString(req.QueryID)
			if err == nil {
				err = h.LaunchQuery(qid, req.SQL)
			}
			if err != nil && logf != nil {
				logf("launch_query failed: %s", err)
			}
			// no response: §4.2 fire-and-forget.
		case OpIsLocalValue:
			local, err := h.IsLocalValue(req.Relname, req.Value)
			if err != nil {
				respond(conn, err, logf)
				continue
			}
			if err := writeMessage(conn, Response{Ok: true, Bool: local}); err != nil {
				return
			}
		default:
			respond(conn, core.ErrProtocol.New("control channel: unknown op "+string(req.Op)), logf)
		}
	}
}

func respond(conn net.Conn, err error, logf logFn) {
	resp := Response{Ok: err == nil}
	if err != nil {
		resp.Err = err.Error()
	}
	if werr := writeMessage(conn, resp); werr != nil && logf != nil {
		logf("control channel: writing response: %s", werr)
	}
}
