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

package core

import "gopkg.in/src-d/go-errors.v1"

// Error kinds. Every fatal condition this module raises is one of these,
// so callers can branch on kind with .Is rather than string-matching.
var (
	ErrConfig            = errors.NewKind("config error: %s")
	ErrResourceExhausted = errors.NewKind("resource exhausted: %s")
	ErrPeerUnreachable   = errors.NewKind("peer unreachable: %s")
	ErrProtocol          = errors.NewKind("protocol error: %s")
	ErrCatalogMiss       = errors.NewKind("relation %q has no fragmentation entry")
	ErrInvalidChildren   = errors.NewKind("invalid children: %s")
	ErrUnsupportedJoin   = errors.NewKind("unsupported join attribute reference: %s")
)
