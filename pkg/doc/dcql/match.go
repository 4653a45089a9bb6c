/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dcql

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"
)

const vctClaim = "vct"

// Candidate is a credential offered to a query.
type Candidate struct {
	ID     string
	Format string
	Claims map[string]interface{}
}

// Result of matching candidates against a query.
type Result struct {
	// Matched is true when every required credential set (or, without sets, every credential query) is answered.
	Matched bool
	// Matches maps credential query ids to the candidates answering them.
	Matches map[string][]*Candidate
	// Records are the candidates selected by the query, in query order and without duplicates.
	Records []*Candidate
}

// Match evaluates the query against candidates.
func (q *Query) Match(candidates []*Candidate) (*Result, error) {
	builder := gval.Full(jsonpath.PlaceholderExtension())
	matches := make(map[string][]*Candidate, len(q.Credentials))

	for _, cq := range q.Credentials {
		for _, c := range candidates {
			ok, err := cq.matches(builder, c)
			if err != nil {
				return nil, fmt.Errorf("credential query [%s]: %w", cq.ID, err)
			}

			if !ok {
				continue
			}

			matches[cq.ID] = append(matches[cq.ID], c)

			if !cq.Multiple {
				break
			}
		}
	}

	result := &Result{Matches: matches}

	if len(q.CredentialSets) == 0 {
		result.Matched = true

		for _, cq := range q.Credentials {
			if len(matches[cq.ID]) == 0 {
				result.Matched = false
			}
		}

		result.Records = collect(q.queryIDs(), matches)

		return result, nil
	}

	result.Matched = true

	var selected []string

	for _, set := range q.CredentialSets {
		option, ok := satisfiedOption(set, matches)
		if !ok {
			if set.IsRequired() {
				result.Matched = false
			}

			continue
		}

		selected = append(selected, option...)
	}

	result.Records = collect(selected, matches)

	return result, nil
}

func (q *Query) queryIDs() []string {
	ids := make([]string, len(q.Credentials))
	for i, cq := range q.Credentials {
		ids[i] = cq.ID
	}

	return ids
}

func satisfiedOption(set *CredentialSet, matches map[string][]*Candidate) ([]string, bool) {
	for _, option := range set.Options {
		ok := true

		for _, id := range option {
			if len(matches[id]) == 0 {
				ok = false

				break
			}
		}

		if ok {
			return option, true
		}
	}

	return nil, false
}

func collect(queryIDs []string, matches map[string][]*Candidate) []*Candidate {
	seen := map[*Candidate]bool{}

	var records []*Candidate

	for _, id := range queryIDs {
		for _, c := range matches[id] {
			if !seen[c] {
				seen[c] = true
				records = append(records, c)
			}
		}
	}

	return records
}

func (cq *CredentialQuery) matches(builder gval.Language, c *Candidate) (bool, error) {
	if cq.Format != "" && c.Format != "" && cq.Format != c.Format {
		return false, nil
	}

	if vcts := cq.vcts(); len(vcts) > 0 {
		vct, _ := c.Claims[vctClaim].(string)
		if !contains(vcts, vct) {
			return false, nil
		}
	}

	if len(cq.Claims) == 0 {
		return true, nil
	}

	satisfied := make(map[string]bool, len(cq.Claims))
	all := true

	for _, claim := range cq.Claims {
		ok, err := claim.matches(builder, c.Claims)
		if err != nil {
			return false, err
		}

		if claim.ID != "" {
			satisfied[claim.ID] = ok
		}

		all = all && ok
	}

	if len(cq.ClaimSets) == 0 {
		return all, nil
	}

	for _, set := range cq.ClaimSets {
		ok := true

		for _, id := range set {
			ok = ok && satisfied[id]
		}

		if ok {
			return true, nil
		}
	}

	return false, nil
}

func (cl *ClaimQuery) matches(builder gval.Language, claims map[string]interface{}) (bool, error) {
	expr, err := cl.expression()
	if err != nil {
		return false, err
	}

	eval, err := builder.NewEvaluable(expr)
	if err != nil {
		return false, fmt.Errorf("build json path evaluator for %s: %w", expr, err)
	}

	v, err := eval(context.TODO(), claims)
	if err != nil {
		// unknown keys and out of range indices are plain misses
		return false, nil
	}

	var values []interface{}

	if cl.hasWildcard() {
		values, _ = v.([]interface{})
	} else {
		values = []interface{}{v}
	}

	for _, value := range values {
		if value == nil {
			continue
		}

		if len(cl.Values) == 0 || containsValue(cl.Values, value) {
			return true, nil
		}
	}

	return false, nil
}

// expression renders the claim path as a JSONPath bracket expression.
func (cl *ClaimQuery) expression() (string, error) {
	var sb strings.Builder

	sb.WriteString("$")

	for _, elem := range cl.Path {
		switch e := elem.(type) {
		case nil:
			sb.WriteString("[*]")
		case string:
			sb.WriteString("[" + strconv.Quote(e) + "]")
		default:
			i, ok := index(e)
			if !ok {
				return "", fmt.Errorf("invalid path element %v (%T)", elem, elem)
			}

			sb.WriteString("[" + strconv.Itoa(i) + "]")
		}
	}

	return sb.String(), nil
}

func (cl *ClaimQuery) hasWildcard() bool {
	for _, elem := range cl.Path {
		if elem == nil {
			return true
		}
	}

	return false
}

func index(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, n >= 0
	case int64:
		return int(n), n >= 0
	case float64:
		if n < 0 || n != math.Trunc(n) {
			return 0, false
		}

		return int(n), true
	default:
		return 0, false
	}
}

func containsValue(expected []interface{}, value interface{}) bool {
	for _, e := range expected {
		if equal(e, value) {
			return true
		}
	}

	return false
}

func equal(a, b interface{}) bool {
	if fa, ok := number(a); ok {
		fb, ok := number(b)

		return ok && fa == fb
	}

	return reflect.DeepEqual(a, b)
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}

	return false
}
