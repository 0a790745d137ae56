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

import "github.com/google/uuid"

// RequestID tags a client control request (ClientCreate, ClientDelete,
// ClientChangeReplicas) so that the RC can hand the request's outcome back to
// the caller waiting on it once the control log has applied it. The RC does
// not deduplicate submissions by RequestID.
type RequestID string

// NewRequestID generates a fresh RequestID.
func NewRequestID() RequestID {
	return RequestID(uuid.NewString())
}
