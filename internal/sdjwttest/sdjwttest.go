/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package sdjwttest issues SD-JWT credentials for tests.
package sdjwttest

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	afjwt "github.com/hyperledger/aries-framework-go/component/models/jwt"
	"github.com/hyperledger/aries-framework-go/component/models/sdjwt/issuer"
	"github.com/stretchr/testify/require"
)

// IssuerURL is the issuer of every credential issued by this package.
const IssuerURL = "https://issuer.example.com"

// Issuer signs SD-JWTs with a fresh Ed25519 key.
type Issuer struct {
	PublicKey ed25519.PublicKey
	signer    *afjwt.JoseED25519Signer
}

// NewIssuer returns an Issuer with a new key.
func NewIssuer(t *testing.T) *Issuer {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	return &Issuer{PublicKey: pub, signer: afjwt.NewEd25519Signer(priv)}
}

// Issue returns claims as an SD-JWT in combined format for issuance, every claim selectively disclosable.
func (i *Issuer) Issue(t *testing.T, claims map[string]interface{}) string {
	t.Helper()

	token, err := issuer.New(IssuerURL, claims, nil, i.signer)
	require.NoError(t, err)

	combined, err := token.Serialize(false)
	require.NoError(t, err)

	return combined
}

// Issue issues claims with a throwaway issuer.
func Issue(t *testing.T, claims map[string]interface{}) string {
	t.Helper()

	return NewIssuer(t).Issue(t, claims)
}
