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

// Package demand implements the pluggable demand-profile capability of
// spec.md §4.2 ("Demand Reporting") and §9's re-architecture pointer for it:
// a narrow plugin surface rather than a dynamically loaded class. It is
// advisory input to the RC's ClientChangeReplicas decisions and is never
// required for correctness (spec.md §4.2).
package demand

import (
	"encoding/json"

	"github.com/vava24680/GNS/common"
)

// Profile is an opaque, policy-defined summary of observed request load for
// one name. The core never inspects its contents.
type Profile interface{}

// Policy is the narrow capability spec.md §9 maps the original "demand
// profile plugin" to.
type Policy interface {
	// Register folds one observed application request (from sender) into a
	// profile, creating one if profile is nil.
	Register(profile Profile, sender common.NodeID) Profile

	// ShouldReport reports whether the AR should package profile and send it
	// to a randomly chosen RC as a DemandReport (spec.md §6).
	ShouldReport(profile Profile) bool

	// Combine merges two profiles, e.g. when the RC folds reports from
	// multiple ARs of the same replica group.
	Combine(a, b Profile) Profile

	// ShouldReconfigure evaluates whether profile, given the name's current
	// replica group, warrants an RC-initiated ChangeReplicas. It returns the
	// proposed new group, or (nil, false) to leave the group unchanged.
	ShouldReconfigure(profile Profile, currentActives common.NodeSet) (common.NodeSet, bool)
}

// NullPolicy is the policy spec.md §6 requires to always be available:
// "a 'null' policy must be available and must never request
// reconfiguration." It is the default demandProfileType.
type NullPolicy struct{}

var _ Policy = NullPolicy{}

func (NullPolicy) Register(_ Profile, _ common.NodeID) Profile { return nil }
func (NullPolicy) ShouldReport(_ Profile) bool                 { return false }
func (NullPolicy) Combine(_, _ Profile) Profile                { return nil }
func (NullPolicy) ShouldReconfigure(_ Profile, _ common.NodeSet) (common.NodeSet, bool) {
	return nil, false
}

// EncodeProfile serializes an opaque Profile for the wire (spec.md §6's
// DemandReport.profileBlob field). The core never interprets the bytes;
// encoding is a generic JSON dump so any Policy's profile shape round-trips
// without the wire format knowing what it is, the same way rc/record.go
// durably encodes its own opaque-to-the-transport state.
func EncodeProfile(p Profile) []byte {
	if p == nil {
		return nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return b
}

// DecodeProfile deserializes a DemandReport.profileBlob back into a generic
// Profile value. A decode failure or empty blob yields nil rather than an
// error: demand reporting is advisory (spec.md §4.2), so a
// malformed or absent remote profile should never fail the report, only
// leave the remote contribution blank for this round.
func DecodeProfile(blob []byte) Profile {
	if len(blob) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(blob, &v); err != nil {
		return nil
	}
	return v
}

// ByName resolves a config demandProfileType identifier to a Policy. Unknown
// identifiers fall back to NullPolicy rather than erroring, matching the
// "must never request reconfiguration" default-safety requirement.
func ByName(name string) Policy {
	switch name {
	case "null", "":
		return NullPolicy{}
	default:
		return NullPolicy{}
	}
}
