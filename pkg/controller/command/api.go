/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package command holds the transport independent controller commands of the wallet.
package command

import (
	"io"
)

// Exec executes one controller command: it reads the JSON request from req and writes the JSON response to rw.
type Exec func(rw io.Writer, req io.Reader) Error

// Handler describes one controller command.
type Handler interface {
	// Name of the command group.
	Name() string
	// Method of the command within its group.
	Method() string
	// Handle returns the command function.
	Handle() Exec
}
