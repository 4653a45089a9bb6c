/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package credentialstore

import (
	"encoding/json"
)

// SaveRequest is the credential to store. Format defaults to "dc+sd-jwt".
type SaveRequest struct {
	Credential string `json:"credential"`
	Format     string `json:"format,omitempty"`
}

// SaveResponse carries the id assigned to a saved credential.
type SaveResponse struct {
	ID string `json:"id"`
}

// IDArg model
//
// This is used for querying/removing by ID from input json.
type IDArg struct {
	// ID of the credential record
	ID string `json:"id"`
}

// CredentialRecord is one stored credential.
type CredentialRecord struct {
	ID         string                 `json:"id"`
	Credential string                 `json:"credential"`
	Format     string                 `json:"format"`
	Claims     map[string]interface{} `json:"claims,omitempty"`
}

// QueryRequest selects credentials with a DCQL query. Without a query every credential is returned.
type QueryRequest struct {
	Query json.RawMessage `json:"query,omitempty"`
}

// QueryResponse lists the selected credentials.
type QueryResponse struct {
	Credentials []*CredentialRecord `json:"credentials"`
}
