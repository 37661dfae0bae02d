// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ioformat

import "errors"

// ErrInputFormat is wrapped by every malformed-input error this package
// returns: fatal at the call site, with the offending line quoted in the
// wrapped message. Legacy rows missing the mismatches field are rejected
// under this error rather than silently defaulted.
var ErrInputFormat = errors.New("ioformat: malformed input")
