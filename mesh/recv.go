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
	"reflect"

	"github.com/hashicorp/go-multierror"

	"github.com/dolthub/shardquery/core"
)

// RecvStatus is the three-way result of RecvAny, matching the C prototype's
// recv_any contract (§4.3): a tuple arrived, nothing is available right
// now, or every peer has signalled close.
type RecvStatus int

const (
	RecvNone RecvStatus = iota
	RecvTuple
	RecvClosed
)

// RecvAny polls every still-open inbound peer channel without blocking
// (a Go select with a default case standing in for the prototype's
// single-threaded non-blocking read loop), returning the first tuple
// found ready, RecvNone if none are, or RecvClosed once every peer's
// reader goroutine has exited.
//
// This is the Go-idiomatic reshaping of "poll all sockets, read whichever
// has data": the blocking header/body reads happen once, in each peer's
// own reader goroutine (readLoop), so the caller-facing RecvAny call
// itself never blocks on I/O.
func (mc *MeshConn) RecvAny() (core.Row, RecvStatus, error) {
	for {
		mc.mu.Lock()
		var cases []reflect.SelectCase
		var peers []int
		anyOpen := false
		for p := 0; p < mc.n; p++ {
			if p == mc.myNode || !mc.rOpen[p] {
				continue
			}
			anyOpen = true
			cases = append(cases, reflect.SelectCase{
				Dir:  reflect.SelectRecv,
				Chan: reflect.ValueOf(mc.events[p]),
			})
			peers = append(peers, p)
		}
		mc.mu.Unlock()

		if !anyOpen {
			return nil, RecvClosed, nil
		}

		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectDefault})

		chosen, recv, ok := reflect.Select(cases)
		if chosen == len(cases)-1 {
			return nil, RecvNone, nil
		}

		peer := peers[chosen]
		if !ok {
			// Peer's channel closed with nothing pending: mark it gone
			// and loop to re-poll the remaining peers.
			mc.markClosed(peer)
			continue
		}

		ev := recv.Interface().(inboundEvent)
		if ev.err != nil {
			return nil, RecvNone, ev.err
		}
		return ev.row, RecvTuple, nil
	}
}

func appendErr(existing error, next error) error {
	return multierror.Append(existing, next)
}
