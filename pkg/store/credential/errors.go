/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package credential

import (
	"errors"
	"fmt"
)

// ErrChunkMissing is the cause of an IncompleteRecordError.
var ErrChunkMissing = errors.New("chunk entry missing")

// IncompleteRecordError is returned when a record's metadata is present but one of its chunk entries is not.
type IncompleteRecordError struct {
	RecordID   string
	ChunkIndex int
	Err        error
}

func (e *IncompleteRecordError) Error() string {
	return fmt.Sprintf("record [%s] incomplete at chunk %d: %v", e.RecordID, e.ChunkIndex, e.Err)
}

func (e *IncompleteRecordError) Unwrap() error {
	return e.Err
}

// UnsupportedFormatError is returned by List for a record whose format has no registered decoder.
type UnsupportedFormatError struct {
	RecordID string
	Format   string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("record [%s] has unsupported format [%s]", e.RecordID, e.Format)
}
