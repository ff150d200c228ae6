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

import (
	stdctx "context"

	"github.com/sirupsen/logrus"
	uuid "github.com/satori/go.uuid"
)

// Context is threaded through every plan-tree call. It carries the
// query id used to correlate control-channel and mesh traffic for one
// query across every peer, a logger pre-tagged with that id, and the
// standard context.Context used for cancellation.
type Context struct {
	stdctx.Context
	QueryID uuid.UUID
	Logger  *logrus.Entry
	MyNode  int
}

// NewContext wraps a standard context.Context for one query execution.
func NewContext(ctx stdctx.Context, myNode int) *Context {
	id := uuid.NewV4()
	return &Context{
		Context: ctx,
		QueryID: id,
		MyNode:  myNode,
		Logger: logrus.WithFields(logrus.Fields{
			"query_id": id.String(),
			"node":     myNode,
		}),
	}
}

// NewEmptyContext returns a Context suitable for tests and one-off
// internal calls that are not part of a user query.
func NewEmptyContext() *Context {
	return NewContext(stdctx.Background(), 0)
}

// WithCancel mirrors context.WithCancel but preserves the Context's
// query id and logger on the derived value.
func WithCancel(ctx *Context) (*Context, stdctx.CancelFunc) {
	c, cancel := stdctx.WithCancel(ctx.Context)
	return &Context{Context: c, QueryID: ctx.QueryID, Logger: ctx.Logger, MyNode: ctx.MyNode}, cancel
}
