// Copyright ©2024 The vdjrec Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ioformat

import (
	"fmt"
	"io"

	"github.com/kortschak/vdjrec/internal/errormodel"
	"github.com/kortschak/vdjrec/internal/modelgraph"
)

// WriteModelParms writes the full model-parameters file: the event graph's
// "@Event_list"/"@Edges" sections followed by the error model's "@ErrorRate"
// section, in one stream.
func WriteModelParms(w io.Writer, m *modelgraph.Model, em *errormodel.Model) error {
	if err := m.WriteText(w); err != nil {
		return fmt.Errorf("ioformat: writing model graph: %w", err)
	}
	if err := em.WriteText(w); err != nil {
		return fmt.Errorf("ioformat: writing error model: %w", err)
	}
	return nil
}

// ReadModelParms parses a full model-parameters file previously written by
// WriteModelParms, reconstructing both the event graph and the error model.
func ReadModelParms(r io.Reader) (*modelgraph.Model, *errormodel.Model, error) {
	m, trailer, err := modelgraph.ReadText(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: model parameters: %v", ErrInputFormat, err)
	}
	em, err := errormodel.ReadText(trailer)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: model parameters: %v", ErrInputFormat, err)
	}
	return m, em, nil
}
