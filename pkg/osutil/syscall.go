/*
Copyright 2016 The Camlistore Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package osutil

import "errors"

// ErrNotSupported is returned by platform-specific helpers that have no
// implementation on the current OS.
var ErrNotSupported = errors.New("operation not supported")

// MaxFD returns the maximum number of open file descriptors allowed. It
// returns ErrNotSupported on unsupported systems. The worker pool (pkg/queue)
// uses it to cap concurrent downloads so a burst of cache misses cannot
// exhaust descriptors shared with the local mirror.
func MaxFD() (uint64, error) {
	return maxFD()
}
