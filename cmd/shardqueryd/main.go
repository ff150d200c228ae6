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

// Command shardqueryd runs one node of a shardquery cluster: it loads
// the node's TOML configuration, opens its Fragmentation Catalog, and
// serves the control channel and operational HTTP introspection surface
// described in SPEC_FULL.md §6.
package main

import (
	"flag"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/dolthub/shardquery/catalog"
	"github.com/dolthub/shardquery/controlchannel"
	"github.com/dolthub/shardquery/portpool"
	"github.com/dolthub/shardquery/server"
	"github.com/dolthub/shardquery/session"
)

func main() {
	configPath := flag.String("config", "shardquery.toml", "path to the node's TOML configuration")
	flag.Parse()

	logger := logrus.New()
	log := logrus.NewEntry(logger)

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("loading configuration")
	}
	log = log.WithField("node", cfg.Node)

	cat, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		log.WithError(err).Fatal("opening fragmentation catalog")
	}
	defer cat.Close()

	pool, err := portpool.New(cfg.Ports[cfg.Node]+1000, cfg.Node, cfg.EPorts)
	if err != nil {
		log.WithError(err).Fatal("initializing port pool")
	}

	serviceLn, err := net.Listen("tcp", cfg.ServiceAddr(cfg.Node))
	if err != nil {
		log.WithError(err).Fatal("listening on service socket port")
	}
	svc := controlchannel.ServeService(serviceLn)
	defer svc.Close()

	sess := session.New(cfg.Node, cfg.NNodes, cfg.Hosts, cfg.ServicePort(cfg.Node), svc, log)

	handler := &server.ControlHandler{
		Session: sess,
		Catalog: cat,
		MyNode:  cfg.Node,
		NNodes:  cfg.NNodes,
		Logger:  log,
	}

	controlLn, err := net.Listen("tcp", cfg.SQLAddr(cfg.Node))
	if err != nil {
		log.WithError(err).Fatal("listening on control channel port")
	}
	go func() {
		if err := controlchannel.Serve(controlLn, handler, log.Errorf); err != nil {
			log.WithError(err).Error("control channel listener stopped")
		}
	}()

	in := &server.Introspection{Cfg: cfg, Session: sess, Catalog: cat, Pool: pool}
	if cfg.HTTPAddr != "" {
		go func() {
			log.WithField("addr", cfg.HTTPAddr).Info("serving operational introspection")
			if err := http.ListenAndServe(cfg.HTTPAddr, in.Router()); err != nil {
				log.WithError(err).Error("introspection listener stopped")
			}
		}()
	}

	log.Info("shardqueryd ready")
	select {}
}
