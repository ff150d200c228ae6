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

// Package mesh implements the Exchange Mesh (C3): per-query full-mesh TCP
// connections carrying tuples, their handshake, frame I/O, and
// cooperative teardown.
package mesh

import (
	"encoding/binary"
	"io"
	"net"

	"gopkg.in/vmihailenco/msgpack.v2"

	"github.com/dolthub/shardquery/core"
)

// HeaderSize is the fixed size of a tuple frame's header: a big-endian
// uint32 carrying the msgpack-encoded body's length (t_len, §4.3).
const HeaderSize = 4

// closeSentinel is the only legal 1-byte message on a mesh connection: it
// announces that the sender has exhausted its local input.
const closeSentinel = byte('C')

// writeFull retries on short writes, mirroring §4.3 ("every write is
// retried on short-write and signal-interrupt").
func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			if isTransient(err) {
				continue
			}
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// writeTuple frames and sends one row: a 4-byte length header followed by
// its msgpack-encoded body.
func writeTuple(conn net.Conn, row core.Row) error {
	body, err := msgpack.Marshal([]interface{}(row))
	if err != nil {
		return err
	}

	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(header, uint32(len(body)))

	if err := writeFull(conn, header); err != nil {
		return err
	}
	return writeFull(conn, body)
}

// writeClose sends the 1-byte close sentinel. It does not close the
// connection: the Exchange operator may still be rescanned (§4.6), so the
// actual socket close is deferred to MeshConn.End.
func writeClose(conn net.Conn) error {
	return writeFull(conn, []byte{closeSentinel})
}

// readResult is what one successful frame-shaped read produced.
type readResult int

const (
	readTuple readResult = iota
	readClose
	readEOF
)

// readFrame performs the two-stage receive described in §4.3: it reads
// the header's first byte on its own (the close sentinel byte ends the
// stream's current pass, and EOF before any byte is a plain close), then
// the rest of the HeaderSize-byte header, then exactly t_len bytes for
// the body. A header whose first byte equals the sentinel would announce
// a body of at least 0x43000000 bytes, so bodies that large cannot be
// framed.
//
// This call blocks; it is only ever invoked from a connection's own
// reader goroutine (readLoop in conn.go), never from the Exchange operator's
// main loop, which is how this module maps the spec's "non-blocking
// header read, blocking body read" onto Go's goroutine-and-channel
// idiom instead of a hand-rolled select-loop (see DESIGN.md).
func readFrame(conn net.Conn) (core.Row, readResult, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(conn, header[:1]); err != nil {
		return nil, readEOF, nil
	}
	if header[0] == closeSentinel {
		return nil, readClose, nil
	}
	if _, err := io.ReadFull(conn, header[1:]); err != nil {
		return nil, readEOF, core.ErrProtocol.New("short header read: " + err.Error())
	}

	tlen := binary.BigEndian.Uint32(header)
	body := make([]byte, tlen)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, readEOF, core.ErrProtocol.New("short body read: " + err.Error())
	}

	var values []interface{}
	if err := msgpack.Unmarshal(body, &values); err != nil {
		return nil, readEOF, core.ErrProtocol.New("malformed tuple body: " + err.Error())
	}
	return core.Row(values), readTuple, nil
}

func isTransient(err error) bool {
	if ne, ok := err.(net.Error); ok {
		return ne.Timeout() || ne.Temporary()
	}
	return false
}
