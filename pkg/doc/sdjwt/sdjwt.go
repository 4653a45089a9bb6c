/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package sdjwt reads the claims of SD-JWT credentials held by the wallet.
package sdjwt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hyperledger/aries-framework-go/component/kmscrypto/doc/jose"
	afgjwt "github.com/hyperledger/aries-framework-go/component/models/jwt"
	"github.com/hyperledger/aries-framework-go/component/models/sdjwt/common"
)

// DecodeClaims returns the claims of an SD-JWT in combined format (issuance or presentation) with every attached
// disclosure applied. The issuer signature is not checked: stored credentials were verified on receipt.
func DecodeClaims(combined string) (map[string]interface{}, error) {
	return DecodeVerifiedClaims(combined, skipSignatureCheck{})
}

// DecodeVerifiedClaims is DecodeClaims with the issuer signature checked by verifier.
func DecodeVerifiedClaims(combined string, verifier jose.SignatureVerifier) (map[string]interface{}, error) {
	token, disclosures, err := parse(combined, verifier)
	if err != nil {
		return nil, err
	}

	if _, ok := token.Payload[common.SDAlgorithmKey]; !ok {
		if len(disclosures) > 0 {
			return nil, fmt.Errorf("disclosures present without %s", common.SDAlgorithmKey)
		}

		return token.Payload, nil
	}

	dcs, err := disclosureClaims(token, disclosures)
	if err != nil {
		return nil, err
	}

	claims, err := common.GetDisclosedClaims(dcs, token.Payload)
	if err != nil {
		return nil, fmt.Errorf("apply disclosures: %w", err)
	}

	return claims, nil
}

// SelectDisclosures returns the disclosures of combined that reveal the named top level claims, in the order the
// credential carries them. Naming a claim no disclosure reveals is an error.
func SelectDisclosures(combined string, names []string) ([]string, error) {
	token, disclosures, err := parse(combined, skipSignatureCheck{})
	if err != nil {
		return nil, err
	}

	dcs, err := disclosureClaims(token, disclosures)
	if err != nil {
		return nil, err
	}

	wanted := common.SliceToMap(names)
	found := make(map[string]bool, len(names))

	var selected []string

	for _, dc := range dcs {
		if wanted[dc.Name] {
			selected = append(selected, dc.Disclosure)
			found[dc.Name] = true
		}
	}

	for _, n := range names {
		if !found[n] {
			return nil, fmt.Errorf("no disclosure for claim '%s'", n)
		}
	}

	return selected, nil
}

func parse(combined string, verifier jose.SignatureVerifier) (*afgjwt.JSONWebToken, []string, error) {
	combined = strings.TrimSpace(combined)
	if combined == "" {
		return nil, nil, errors.New("empty SD-JWT")
	}

	cfi := common.ParseCombinedFormatForIssuance(combined)

	token, _, err := afgjwt.Parse(cfi.SDJWT, afgjwt.WithSignatureVerifier(verifier))
	if err != nil {
		return nil, nil, fmt.Errorf("parse SD-JWT: %w", err)
	}

	var disclosures []string

	// presentations end with a key binding JWT or an empty part
	for _, d := range cfi.Disclosures {
		if d == "" || strings.Contains(d, ".") {
			continue
		}

		disclosures = append(disclosures, d)
	}

	return token, disclosures, nil
}

func disclosureClaims(token *afgjwt.JSONWebToken, disclosures []string) ([]*common.DisclosureClaim, error) {
	dcs, err := common.GetDisclosureClaims(disclosures, common.ExtractSDJWTVersion(true, token.Headers))
	if err != nil {
		return nil, fmt.Errorf("decode disclosures: %w", err)
	}

	return dcs, nil
}

type skipSignatureCheck struct{}

func (skipSignatureCheck) Verify(jose.Headers, []byte, []byte, []byte) error {
	return nil
}
