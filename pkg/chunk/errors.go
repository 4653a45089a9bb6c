/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package chunk

import "fmt"

// MalformedFragmentError is returned for fragments that cannot be decoded or whose envelope is invalid.
// Such fragments never mutate assembly state.
type MalformedFragmentError struct {
	Reason string
	Err    error
}

func (e *MalformedFragmentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed fragment: %s: %v", e.Reason, e.Err)
	}

	return "malformed fragment: " + e.Reason
}

// Unwrap returns the underlying cause, if any.
func (e *MalformedFragmentError) Unwrap() error {
	return e.Err
}
