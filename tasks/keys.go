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

package tasks

import "fmt"

// Key kinds, per spec.md §4.3: "typeName:name:epoch" for Stop/Start/Drop.
// KindFetch names a "fetch:name:prevEpoch" key; the AR's state-transfer fetch
// does not run through the Scheduler and no caller builds that key.
const (
	KindStopEpoch = "stop"
	KindStartEpoch = "start"
	KindDropEpoch  = "drop"
	KindFetch      = "fetch"
)

// Key builds a scheduler key of the form "kind:name:epoch".
func Key(kind, name string, epoch uint32) string {
	return fmt.Sprintf("%s:%s:%d", kind, name, epoch)
}
