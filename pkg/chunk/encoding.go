/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package chunk

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/multiformats/go-multibase"
)

// Encoding is the binary-safe text encoding required by a channel. Encoded output must never contain the
// envelope delimiter.
type Encoding interface {
	// Encode encodes data into channel text.
	Encode(data []byte) string
	// Decode decodes channel text.
	Decode(text string) ([]byte, error)
	// IsEncoded reports whether text is already in this encoding.
	IsEncoded(text string) bool
}

type base64Encoding struct{}

// Base64Encoding returns the standard padded base64 channel encoding.
func Base64Encoding() Encoding {
	return base64Encoding{}
}

func (base64Encoding) Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func (base64Encoding) Decode(text string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(text)
}

// IsEncoded only accepts text that decodes, so a passthrough payload always survives reassembly.
func (base64Encoding) IsEncoded(text string) bool {
	_, err := base64.StdEncoding.DecodeString(text)

	return err == nil
}

type multibaseEncoding struct {
	base multibase.Encoding
}

// MultibaseEncoding returns a self-describing multibase channel encoding using the given base.
// Bases whose alphabet contains ':' are rejected.
func MultibaseEncoding(base multibase.Encoding) (Encoding, error) {
	enc, err := multibase.NewEncoder(base)
	if err != nil {
		return nil, fmt.Errorf("multibase encoder: %w", err)
	}

	probe := enc.Encode([]byte{0xff, 0xfe, 0xfd, 0x3a, 0x00})
	if containsDelimiter(probe) {
		return nil, fmt.Errorf("multibase encoding %q can emit the envelope delimiter", string(rune(base)))
	}

	return &multibaseEncoding{base: base}, nil
}

func containsDelimiter(s string) bool {
	return strings.Contains(s, Delimiter)
}

func (m *multibaseEncoding) Encode(data []byte) string {
	// only fails for unknown bases, which the constructor already ruled out.
	text, _ := multibase.Encode(m.base, data) //nolint:errcheck

	return text
}

func (m *multibaseEncoding) Decode(text string) ([]byte, error) {
	base, data, err := multibase.Decode(text)
	if err != nil {
		return nil, err
	}

	if base != m.base {
		return nil, fmt.Errorf("unexpected multibase prefix %q", string(rune(base)))
	}

	return data, nil
}

func (m *multibaseEncoding) IsEncoded(text string) bool {
	base, _, err := multibase.Decode(text)

	return err == nil && base == m.base
}

// Prepare transcodes payload into enc unless it already is in that encoding. The returned flag reports
// whether transcoding happened.
func Prepare(payload string, enc Encoding) (string, bool) {
	if enc.IsEncoded(payload) {
		return payload, false
	}

	return enc.Encode([]byte(payload)), true
}

type plainEncoding struct{}

// PlainEncoding passes text through untouched. It is meant for payloads that are already printable and
// for channels that need no transcoding.
func PlainEncoding() Encoding {
	return plainEncoding{}
}

func (plainEncoding) Encode(data []byte) string {
	return string(data)
}

func (plainEncoding) Decode(text string) ([]byte, error) {
	return []byte(text), nil
}

func (plainEncoding) IsEncoded(string) bool {
	return true
}
