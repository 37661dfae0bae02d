// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ioformat

import (
	"fmt"
	"io"

	"github.com/kortschak/vdjrec/internal/marginal"
)

// WriteMarginals writes the model-marginals text file: one block per event,
// in the topological order ComputeSize laid the tensor out in.
func WriteMarginals(w io.Writer, t *marginal.Tensor) error {
	if err := t.WriteText(w); err != nil {
		return fmt.Errorf("ioformat: writing model marginals: %w", err)
	}
	return nil
}

// ReadMarginals reads a model-marginals text file previously written by
// WriteMarginals into t, which must already be sized against the same Model
// (e.g. via marginal.ComputeSize).
func ReadMarginals(r io.Reader, t *marginal.Tensor) error {
	if err := t.ReadText(r); err != nil {
		return fmt.Errorf("%w: model marginals: %v", ErrInputFormat, err)
	}
	return nil
}
