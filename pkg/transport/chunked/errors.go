/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package chunked

import "fmt"

// ChunkSendError identifies the first fragment whose write failed. Fragments before Index were delivered;
// none after it were attempted.
type ChunkSendError struct {
	MessageID string
	Index     int
	Total     int
	Cause     error
}

func (e *ChunkSendError) Error() string {
	return fmt.Sprintf("send fragment %d of %d (message [%s]): %v", e.Index, e.Total, e.MessageID, e.Cause)
}

// Unwrap returns the channel error.
func (e *ChunkSendError) Unwrap() error {
	return e.Cause
}
