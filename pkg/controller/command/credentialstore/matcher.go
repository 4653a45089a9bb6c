/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package credentialstore

import (
	"github.com/vdcs/dcx-go/pkg/doc/dcql"
	"github.com/vdcs/dcx-go/pkg/store/credential"
)

type queryMatcher struct {
	query *dcql.Query
}

// NewMatcher returns a credential.Matcher selecting the credentials that answer query.
func NewMatcher(query *dcql.Query) credential.Matcher {
	return &queryMatcher{query: query}
}

func (m *queryMatcher) Match(candidates []*credential.Credential) (*credential.MatchResult, error) {
	byID := make(map[string]*credential.Credential, len(candidates))
	offered := make([]*dcql.Candidate, 0, len(candidates))

	for _, c := range candidates {
		byID[c.ID] = c
		offered = append(offered, &dcql.Candidate{ID: c.ID, Format: c.Record.Format, Claims: c.Claims})
	}

	result, err := m.query.Match(offered)
	if err != nil {
		return nil, err
	}

	records := make([]*credential.Credential, 0, len(result.Records))
	for _, r := range result.Records {
		records = append(records, byID[r.ID])
	}

	return &credential.MatchResult{Matched: result.Matched, Records: records}, nil
}
