// Copyright 2024 The GNS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package config implements the configuration surface enumerated in
// spec.md §6, loaded from a YAML file (gopkg.in/yaml.v2, grounded on
// AKJUS-bsc-erigon's go.mod).
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/vava24680/GNS/common"
)

// SSLMode is the TLS policy for a listener, spec.md §6.
type SSLMode string

const (
	SSLNone       SSLMode = "NONE"
	SSLServerAuth SSLMode = "SERVER_AUTH"
	SSLMutualAuth SSLMode = "MUTUAL_AUTH"
)

// Role marks whether a node map entry hosts a Reconfigurator, an Active
// Replica, or both (a small deployment may co-locate them).
type Role string

const (
	RoleActive         Role = "active"
	RoleReconfigurator Role = "reconfigurator"
)

// HostEntry is one node map entry: nodeID -> (address, startingPort, role).
type HostEntry struct {
	NodeID       common.NodeID `yaml:"nodeId"`
	Address      string        `yaml:"address"`
	StartingPort int           `yaml:"startingPort"`
	Role         Role          `yaml:"role"`
}

// Config is the full configuration surface of spec.md §6.
type Config struct {
	ClientSSLMode     SSLMode `yaml:"clientSslMode"`
	ServerSSLMode     SSLMode `yaml:"serverSslMode"`
	ReconTimeoutMS    int     `yaml:"reconTimeout"`
	ClientPortOffset  int     `yaml:"clientPortOffset"`
	DemandProfileType string  `yaml:"demandProfileType"`
	NoSQLRecordsClass string  `yaml:"noSqlRecordsClass"`
	Hosts             []HostEntry `yaml:"hosts"`
}

// ReconTimeout returns ReconTimeoutMS as a time.Duration, the cap on the
// bounded-exponential backoff of spec.md §4.3.
func (c *Config) ReconTimeout() time.Duration {
	return time.Duration(c.ReconTimeoutMS) * time.Millisecond
}

// Default returns a Config with the conservative defaults this module ships
// with: no TLS, a 30s retransmit cap, a client-port offset of 1000, and the null
// demand policy (spec.md §6, "a 'null' policy must be available and must
// never request reconfiguration").
func Default() *Config {
	return &Config{
		ClientSSLMode:     SSLNone,
		ServerSSLMode:     SSLNone,
		ReconTimeoutMS:    30000,
		ClientPortOffset:  1000,
		DemandProfileType: "null",
		NoSQLRecordsClass: "bbolt",
	}
}

// Load reads and parses a YAML config file at path over Default(): a key
// absent from the file keeps its default, while a key present with a zero
// value stays zero.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "gns/config: read %s", path)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "gns/config: parse %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports common.ErrInvalidConfig if the node map leaves no RC
// node, or (when selfID is checked via ValidateSelf) the issuing node out of
// the map, per spec.md §7.
func (c *Config) Validate() error {
	hasRC := false
	for _, h := range c.Hosts {
		if h.Role == RoleReconfigurator {
			hasRC = true
		}
	}
	if len(c.Hosts) > 0 && !hasRC {
		return errors.WithMessage(common.ErrInvalidConfig, "gns/config: node map has no reconfigurator")
	}
	return nil
}

// ValidateSelf additionally checks that selfID appears in the node map,
// per spec.md §7 ("a node map change that leaves ... the node itself not in
// the map").
func (c *Config) ValidateSelf(selfID common.NodeID) error {
	if err := c.Validate(); err != nil {
		return err
	}
	for _, h := range c.Hosts {
		if h.NodeID == selfID {
			return nil
		}
	}
	return errors.WithMessagef(common.ErrInvalidConfig, "gns/config: node %s not in node map", selfID)
}

// ClientPort returns the client-facing port for a host entry, per spec.md
// §6 ("a client-facing port at serverPort + clientPortOffset").
func (c *Config) ClientPort(h HostEntry) int {
	return h.StartingPort + c.ClientPortOffset
}

// ReconfiguratorNodes returns the NodeIDs of every host entry with the
// RoleReconfigurator role.
func (c *Config) ReconfiguratorNodes() []common.NodeID {
	var out []common.NodeID
	for _, h := range c.Hosts {
		if h.Role == RoleReconfigurator {
			out = append(out, h.NodeID)
		}
	}
	return out
}

// ActiveNodes returns the NodeIDs of every host entry with the RoleActive
// role.
func (c *Config) ActiveNodes() []common.NodeID {
	var out []common.NodeID
	for _, h := range c.Hosts {
		if h.Role == RoleActive {
			out = append(out, h.NodeID)
		}
	}
	return out
}

// Host looks up one node map entry by ID.
func (c *Config) Host(id common.NodeID) (HostEntry, bool) {
	for _, h := range c.Hosts {
		if h.NodeID == id {
			return h, true
		}
	}
	return HostEntry{}, false
}
