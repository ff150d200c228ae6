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

// CancelDrain implements the Exchange's cancellation sequence (§5): send
// the close sentinel and close every outbound socket, then drain every
// inbound socket until it reports closed, discarding tuples and
// aggregating whatever per-peer errors surface along the way. Ports are
// released by the caller once this returns; End is still safe to call
// afterward to clean up the listener.
func (mc *MeshConn) CancelDrain() error {
	var merr error

	if err := mc.SendCloseAll(); err != nil {
		merr = appendErr(merr, err)
	}

	mc.mu.Lock()
	for p := 0; p < mc.n; p++ {
		if p == mc.myNode || mc.w[p] == nil {
			continue
		}
		mc.w[p].Close()
		mc.w[p] = nil
		mc.wOpen[p] = false
	}
	mc.mu.Unlock()

	for {
		_, status, err := mc.RecvAny()
		if err != nil {
			merr = appendErr(merr, err)
			continue
		}
		if status == RecvClosed {
			break
		}
	}

	return merr
}
