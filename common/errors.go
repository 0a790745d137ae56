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

package common

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// Error kinds surfaced by the reconfiguration core, per spec.md §7. Callers
// should compare against these with errors.Cause (or errors.Is, since the
// sentinels are comparable values) rather than string-matching.
var (
	// ErrNotFound is returned for a lookup of a name with no record.
	ErrNotFound = errors.New("gns: not found")

	// ErrAlreadyExists is returned for a create request naming an existing
	// record.
	ErrAlreadyExists = errors.New("gns: already exists")

	// ErrBusy is returned for a control operation that arrived while the
	// record is not READY.
	ErrBusy = errors.New("gns: record busy")

	// ErrBadEpoch is returned for a state-transfer or drop request naming an
	// epoch the node has no record of.
	ErrBadEpoch = errors.New("gns: bad epoch")

	// ErrTransientUnreachable marks an outbound message whose peer has not
	// answered within the retransmit budget. It is never returned to a
	// client directly (per spec.md §7, the operation stays pending); it is
	// used internally to annotate retry/backoff decisions.
	ErrTransientUnreachable = errors.New("gns: peer transiently unreachable")

	// ErrInvalidConfig is returned for a node-map change that leaves no RC,
	// or that leaves the node issuing the change out of the map, or for a
	// create request with an empty initial replica group.
	ErrInvalidConfig = errors.New("gns: invalid configuration")
)

// Wrap annotates err with msg, preserving the original as the Cause so that
// errors.Cause(Wrap(ErrNotFound, "...")) == ErrNotFound still holds. A nil
// err returns nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}

// Is reports whether err's cause chain contains target. github.com/pkg/errors
// wraps implement Unwrap as of v0.9, so the standard library's errors.Is walks
// the whole chain correctly.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
