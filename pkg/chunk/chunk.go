/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package chunk splits payloads into bounded fragments and encodes/decodes the fragment envelope used on
// size-constrained channels.
//
// Wire form of one fragment, before the channel encoding is applied:
//
//	<messageId>:<index>:<total>:<data>
//
// The legacy three field form <index>:<total>:<data> is still accepted on receipt.
package chunk

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Delimiter separates envelope fields.
const Delimiter = ":"

const (
	legacyFieldCount = 3
	fieldCount       = 4
)

var errInvalidChunkSize = errors.New("max chunk size must be at least 1")

// Split splits payload into fragments of at most maxChunkSize bytes each. The concatenation of the fragments
// equals payload. An empty payload yields one empty fragment.
func Split(payload string, maxChunkSize int) ([]string, error) {
	if maxChunkSize < 1 {
		return nil, errInvalidChunkSize
	}

	if payload == "" {
		return []string{""}, nil
	}

	fragments := make([]string, 0, (len(payload)+maxChunkSize-1)/maxChunkSize)

	for start := 0; start < len(payload); start += maxChunkSize {
		end := start + maxChunkSize
		if end > len(payload) {
			end = len(payload)
		}

		fragments = append(fragments, payload[start:end])
	}

	return fragments, nil
}

// Fragment is one positioned piece of a logical message.
type Fragment struct {
	// MessageID groups the fragments of one message. Empty for legacy senders.
	MessageID string
	Index     int
	Total     int
	Data      string
}

// Envelope tags each fragment with its position and the message id.
func Envelope(messageID string, fragments []string) []Fragment {
	out := make([]Fragment, len(fragments))

	for i, data := range fragments {
		out[i] = Fragment{MessageID: messageID, Index: i, Total: len(fragments), Data: data}
	}

	return out
}

// String renders the unencoded envelope.
func (f *Fragment) String() string {
	head := strconv.Itoa(f.Index) + Delimiter + strconv.Itoa(f.Total) + Delimiter + f.Data
	if f.MessageID == "" {
		return head
	}

	return f.MessageID + Delimiter + head
}

// Encode renders the envelope wrapped in the channel encoding.
func (f *Fragment) Encode(enc Encoding) string {
	return enc.Encode([]byte(f.String()))
}

// ParseFragment decodes raw channel text and parses the envelope. Whitespace in raw is ignored.
func ParseFragment(raw string, enc Encoding) (*Fragment, error) {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}

		return r
	}, raw)

	decoded, err := enc.Decode(clean)
	if err != nil {
		return nil, &MalformedFragmentError{Reason: "channel encoding", Err: err}
	}

	return ParseEnvelope(string(decoded))
}

// ParseEnvelope parses an unencoded envelope.
func ParseEnvelope(text string) (*Fragment, error) {
	parts := strings.SplitN(text, Delimiter, fieldCount)
	if len(parts) < legacyFieldCount {
		return nil, &MalformedFragmentError{Reason: fmt.Sprintf("expected at least %d fields, got %d",
			legacyFieldCount, len(parts))}
	}

	f := &Fragment{}

	// message ids are never numeric, so a numeric first field means <index>:<total>:<data>.
	if _, err := strconv.Atoi(parts[0]); err == nil {
		legacy := strings.SplitN(text, Delimiter, legacyFieldCount)

		if err := f.setPosition(legacy[0], legacy[1]); err != nil {
			return nil, err
		}

		f.Data = legacy[2]

		return f, nil
	}

	if len(parts) != fieldCount {
		return nil, &MalformedFragmentError{Reason: fmt.Sprintf("expected %d fields, got %d", fieldCount, len(parts))}
	}

	if parts[0] == "" {
		return nil, &MalformedFragmentError{Reason: "empty message id"}
	}

	if err := f.setPosition(parts[1], parts[2]); err != nil {
		return nil, err
	}

	f.MessageID = parts[0]
	f.Data = parts[3]

	return f, nil
}

func (f *Fragment) setPosition(indexStr, totalStr string) error {
	index, err := strconv.Atoi(indexStr)
	if err != nil {
		return &MalformedFragmentError{Reason: "index is not a number", Err: err}
	}

	total, err := strconv.Atoi(totalStr)
	if err != nil {
		return &MalformedFragmentError{Reason: "total is not a number", Err: err}
	}

	if total < 1 {
		return &MalformedFragmentError{Reason: fmt.Sprintf("total %d is not positive", total)}
	}

	if index < 0 || index >= total {
		return &MalformedFragmentError{Reason: fmt.Sprintf("index %d out of range [0, %d)", index, total)}
	}

	f.Index = index
	f.Total = total

	return nil
}

// IsValidMessageID reports whether id can be carried in an envelope: non-empty, no delimiter, no whitespace
// and not purely numeric (which would read as a legacy index).
func IsValidMessageID(id string) bool {
	if id == "" || strings.Contains(id, Delimiter) || strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return false
	}

	_, err := strconv.Atoi(id)

	return err != nil
}
