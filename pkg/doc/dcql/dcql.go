/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package dcql matches wallet credentials against Digital Credentials Query Language queries. The supported subset
// covers credential queries by format, vct and claim paths, and credential sets.
package dcql

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Query is a DCQL query.
type Query struct {
	Credentials    []*CredentialQuery `json:"credentials"`
	CredentialSets []*CredentialSet   `json:"credential_sets,omitempty"`
}

// CredentialQuery requests one credential.
type CredentialQuery struct {
	ID     string        `json:"id"`
	Format string        `json:"format,omitempty"`
	Meta   *Meta         `json:"meta,omitempty"`
	Claims []*ClaimQuery `json:"claims,omitempty"`
	// ClaimSets lists alternative claim id combinations; the first satisfiable one wins.
	ClaimSets [][]string `json:"claim_sets,omitempty"`
	// Multiple allows more than one credential to answer the query.
	Multiple bool `json:"multiple,omitempty"`
}

// Meta constrains credential metadata. VCTValue is the single valued form some verifiers send.
type Meta struct {
	VCTValue  string   `json:"vct_value,omitempty"`
	VCTValues []string `json:"vct_values,omitempty"`
}

// ClaimQuery requests one claim. Path elements are object keys (string), array indices (int) or nil for every
// array element.
type ClaimQuery struct {
	ID     string        `json:"id,omitempty"`
	Path   []interface{} `json:"path"`
	Values []interface{} `json:"values,omitempty"`
}

// CredentialSet lists alternative combinations of credential query ids.
type CredentialSet struct {
	Options  [][]string `json:"options"`
	Required *bool      `json:"required,omitempty"`
}

// IsRequired reports whether the set must be satisfied; sets are required unless stated otherwise.
func (s *CredentialSet) IsRequired() bool {
	return s.Required == nil || *s.Required
}

// Parse decodes and validates a query given as generic JSON.
func Parse(raw map[string]interface{}) (*Query, error) {
	q := &Query{}

	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  q,
		TagName: "json",
	})
	if err != nil {
		return nil, fmt.Errorf("create query decoder: %w", err)
	}

	if err := d.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode query: %w", err)
	}

	if err := q.validate(); err != nil {
		return nil, err
	}

	return q, nil
}

// ParseJSON decodes and validates a query given as JSON text.
func ParseJSON(data []byte) (*Query, error) {
	var raw map[string]interface{}

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal query: %w", err)
	}

	return Parse(raw)
}

func (q *Query) validate() error {
	if len(q.Credentials) == 0 {
		return errors.New("query has no credential queries")
	}

	ids := make(map[string]bool, len(q.Credentials))

	for _, cq := range q.Credentials {
		if cq == nil || cq.ID == "" {
			return errors.New("credential query without id")
		}

		if ids[cq.ID] {
			return fmt.Errorf("duplicate credential query id [%s]", cq.ID)
		}

		ids[cq.ID] = true

		if err := cq.validate(); err != nil {
			return fmt.Errorf("credential query [%s]: %w", cq.ID, err)
		}
	}

	for i, set := range q.CredentialSets {
		if set == nil || len(set.Options) == 0 {
			return fmt.Errorf("credential set %d has no options", i)
		}

		for _, option := range set.Options {
			for _, id := range option {
				if !ids[id] {
					return fmt.Errorf("credential set %d references unknown credential query [%s]", i, id)
				}
			}
		}
	}

	return nil
}

func (cq *CredentialQuery) validate() error {
	claimIDs := map[string]bool{}

	for i, c := range cq.Claims {
		if c == nil || len(c.Path) == 0 {
			return fmt.Errorf("claim %d has an empty path", i)
		}

		if _, err := c.expression(); err != nil {
			return fmt.Errorf("claim %d: %w", i, err)
		}

		if c.ID != "" {
			claimIDs[c.ID] = true
		}
	}

	for _, set := range cq.ClaimSets {
		for _, id := range set {
			if !claimIDs[id] {
				return fmt.Errorf("claim set references unknown claim [%s]", id)
			}
		}
	}

	return nil
}

func (cq *CredentialQuery) vcts() []string {
	if cq.Meta == nil {
		return nil
	}

	if cq.Meta.VCTValue != "" {
		return append([]string{cq.Meta.VCTValue}, cq.Meta.VCTValues...)
	}

	return cq.Meta.VCTValues
}
