/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package credential

// Record is a stored credential: the raw credential text plus its format tag (e.g. "dc+sd-jwt").
type Record struct {
	Credential string `json:"credential"`
	Format     string `json:"format"`
}

// Metadata describes how a record is laid out in the backend.
type Metadata struct {
	ID          string `json:"id"`
	Format      string `json:"format"`
	TotalChunks int    `json:"totalChunks"`
	TotalSize   int    `json:"totalSize"`
}

// Credential is a listed record together with the claims its format decoder extracted.
type Credential struct {
	ID     string                 `json:"id"`
	Record *Record                `json:"record"`
	Claims map[string]interface{} `json:"claims,omitempty"`
}

// MatchResult is the outcome of a Matcher run.
type MatchResult struct {
	Matched bool
	Records []*Credential
}

// Matcher filters listed credentials. Matching semantics belong entirely to the implementation; List only
// feeds candidates in and returns the matched records in the reported order.
type Matcher interface {
	Match(candidates []*Credential) (*MatchResult, error)
}

// ClaimsDecoder extracts claims from the raw credential text of one format.
type ClaimsDecoder func(credential string) (map[string]interface{}, error)

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(candidates []*Credential) (*MatchResult, error)

// Match calls f.
func (f MatcherFunc) Match(candidates []*Credential) (*MatchResult, error) {
	return f(candidates)
}
