/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package chunked moves payloads across a size constrained transport.Channel: outbound through a Sequencer,
// inbound through Monitor and an assembler.
package chunked

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/vdcs/dcx-go/pkg/chunk"
	"github.com/vdcs/dcx-go/pkg/transport"
)

var logger = log.New("dcx/transport/chunked")

const (
	// DefaultMaxChunkSize is the payload bytes carried per fragment, before envelope and channel encoding.
	DefaultMaxChunkSize = 300
	// DefaultPacing is the pause between two fragments.
	DefaultPacing = 100 * time.Millisecond

	messageIDPrefixLength = 8
)

type options struct {
	maxChunkSize    int
	pacing          time.Duration
	wireEncoding    chunk.Encoding
	payloadEncoding chunk.Encoding
	passthrough     bool
	legacy          bool
	newMessageID    func() string
}

// Option configures a Sequencer.
type Option func(opts *options)

// WithMaxChunkSize sets the payload bytes per fragment.
func WithMaxChunkSize(n int) Option {
	return func(opts *options) {
		opts.maxChunkSize = n
	}
}

// WithPacing sets the pause between non-final fragments.
func WithPacing(d time.Duration) Option {
	return func(opts *options) {
		opts.pacing = d
	}
}

// WithWireEncoding sets the encoding wrapping each envelope.
func WithWireEncoding(enc chunk.Encoding) Option {
	return func(opts *options) {
		opts.wireEncoding = enc
	}
}

// WithPayloadEncoding sets the encoding the payload is transcoded into before splitting.
func WithPayloadEncoding(enc chunk.Encoding) Option {
	return func(opts *options) {
		opts.payloadEncoding = enc
	}
}

// WithPassthroughEncoded sends payloads that already look payload-encoded without transcoding them again.
// Receivers then yield the decoded bytes of such payloads rather than the payload text itself.
func WithPassthroughEncoded() Option {
	return func(opts *options) {
		opts.passthrough = true
	}
}

// WithLegacyEnvelope omits the message id from envelopes, for receivers that only understand
// <index>:<total>:<data>.
func WithLegacyEnvelope() Option {
	return func(opts *options) {
		opts.legacy = true
	}
}

// WithMessageIDGenerator overrides message id generation. Ids must satisfy chunk.IsValidMessageID.
func WithMessageIDGenerator(fn func() string) Option {
	return func(opts *options) {
		opts.newMessageID = fn
	}
}

// Sequencer sends payloads fragment by fragment, in index order, pacing writes to the channel's throughput.
type Sequencer struct {
	opts options
}

// NewSequencer returns a Sequencer.
func NewSequencer(opts ...Option) *Sequencer {
	o := options{
		maxChunkSize:    DefaultMaxChunkSize,
		pacing:          DefaultPacing,
		wireEncoding:    chunk.Base64Encoding(),
		payloadEncoding: chunk.Base64Encoding(),
	}

	for _, opt := range opts {
		opt(&o)
	}

	if o.newMessageID == nil {
		o.newMessageID = counterMessageIDs()
	}

	return &Sequencer{opts: o}
}

// counterMessageIDs returns a generator of <random prefix>.<counter> ids, unique per process run.
func counterMessageIDs() func() string {
	prefix := uuid.New().String()[:messageIDPrefixLength]

	var counter uint64

	return func() string {
		return prefix + "." + strconv.FormatUint(atomic.AddUint64(&counter, 1), 36)
	}
}

// NewMessageID returns a fresh message id, or "" when legacy envelopes are configured.
func (s *Sequencer) NewMessageID() string {
	if s.opts.legacy {
		return ""
	}

	return s.opts.newMessageID()
}

// Send splits payload and writes every fragment to ch under a fresh message id.
func (s *Sequencer) Send(ctx context.Context, ch transport.Channel, payload string) error {
	return s.SendFrom(ctx, ch, s.NewMessageID(), payload, 0)
}

// Fragments returns the channel-encoded fragments of payload under messageID.
func (s *Sequencer) Fragments(messageID, payload string) ([]string, error) {
	if messageID != "" && !chunk.IsValidMessageID(messageID) {
		return nil, fmt.Errorf("invalid message id [%s]", messageID)
	}

	var text string

	if s.opts.passthrough {
		text, _ = chunk.Prepare(payload, s.opts.payloadEncoding)
	} else {
		text = s.opts.payloadEncoding.Encode([]byte(payload))
	}

	parts, err := chunk.Split(text, s.opts.maxChunkSize)
	if err != nil {
		return nil, fmt.Errorf("split payload: %w", err)
	}

	fragments := chunk.Envelope(messageID, parts)
	encoded := make([]string, len(fragments))

	for i := range fragments {
		encoded[i] = fragments[i].Encode(s.opts.wireEncoding)
	}

	return encoded, nil
}

// SendFrom writes the fragments of payload under messageID starting at index start. Resending from the index
// reported by a ChunkSendError, with the same message id, completes an interrupted transfer as long as the
// receiver still holds its buffer.
func (s *Sequencer) SendFrom(ctx context.Context, ch transport.Channel, messageID, payload string, start int) error {
	encoded, err := s.Fragments(messageID, payload)
	if err != nil {
		return err
	}

	total := len(encoded)

	if start < 0 || start >= total {
		return fmt.Errorf("start index %d out of range [0, %d)", start, total)
	}

	for i := start; i < total; i++ {
		if err := ch.Write(ctx, encoded[i]); err != nil {
			logger.Errorf("failed to send fragment %d of %d for message [%s]: %v", i, total, messageID, err)

			return &ChunkSendError{MessageID: messageID, Index: i, Total: total, Cause: err}
		}

		if i == total-1 || s.opts.pacing <= 0 {
			continue
		}

		if err := pause(ctx, s.opts.pacing); err != nil {
			return &ChunkSendError{MessageID: messageID, Index: i + 1, Total: total, Cause: err}
		}
	}

	logger.Debugf("sent message [%s] in %d fragments", messageID, total-start)

	return nil
}

func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
