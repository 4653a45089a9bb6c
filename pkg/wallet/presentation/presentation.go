/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package presentation presents stored credentials to a verifier over a chunked channel.
package presentation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/hyperledger/aries-framework-go/component/kmscrypto/doc/jose"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/component/models/sdjwt/holder"

	"github.com/vdcs/dcx-go/pkg/doc/sdjwt"
	"github.com/vdcs/dcx-go/pkg/transport"
	"github.com/vdcs/dcx-go/pkg/transport/chunked"
)

var logger = log.New("dcx/wallet/presentation")

// VPTokenType is the message type of a presentation response.
const VPTokenType = "vp_token"

// ErrNoChannel is returned when presenting without a connected channel.
var ErrNoChannel = errors.New("no channel connected")

// Binding binds a presentation to a verifier request and the holder key.
type Binding struct {
	Audience string
	Nonce    string
	IssuedAt time.Time
	Signer   jose.Signer
}

// Builder turns a stored credential into a presentation disclosing the named claims.
type Builder interface {
	Build(credential string, disclose []string, binding *Binding) (string, error)
}

// SDJWTBuilder builds SD-JWT presentations with an optional key binding JWT.
type SDJWTBuilder struct{}

// Build selects the disclosures of the named claims and appends a key binding JWT when binding is set.
func (SDJWTBuilder) Build(credential string, disclose []string, binding *Binding) (string, error) {
	disclosures, err := sdjwt.SelectDisclosures(credential, disclose)
	if err != nil {
		return "", fmt.Errorf("select disclosures: %w", err)
	}

	var opts []holder.Option

	if binding != nil {
		opts = append(opts, holder.WithHolderVerification(&holder.BindingInfo{
			Payload: holder.BindingPayload{
				Audience: binding.Audience,
				Nonce:    binding.Nonce,
				IssuedAt: jwt.NewNumericDate(binding.IssuedAt),
			},
			Signer: binding.Signer,
		}))
	}

	presentation, err := holder.CreatePresentation(credential, disclosures, opts...)
	if err != nil {
		return "", fmt.Errorf("create presentation: %w", err)
	}

	return presentation, nil
}

// RequestObject carries the verifier parameters a presentation answers.
type RequestObject struct {
	ClientID string `json:"client_id"`
	Nonce    string `json:"nonce"`
}

// Message is the envelope a presentation travels in.
type Message struct {
	Type  string            `json:"type"`
	Value map[string]string `json:"value"`
}

// Sender delivers a payload over a channel; *chunked.Sequencer is one.
type Sender interface {
	Send(ctx context.Context, ch transport.Channel, payload string) error
}

// Presenter builds and sends presentations.
type Presenter struct {
	signer  jose.Signer
	builder Builder
	sender  Sender
	now     func() time.Time
}

// Option configures a Presenter.
type Option func(p *Presenter)

// WithBuilder replaces the default SDJWTBuilder.
func WithBuilder(b Builder) Option {
	return func(p *Presenter) {
		p.builder = b
	}
}

// WithSender replaces the default chunked.Sequencer.
func WithSender(s Sender) Option {
	return func(p *Presenter) {
		p.sender = s
	}
}

// WithClock overrides the time source of key binding issuance.
func WithClock(now func() time.Time) Option {
	return func(p *Presenter) {
		p.now = now
	}
}

// New returns a Presenter signing key bindings with signer. A nil signer produces presentations without key
// binding.
func New(signer jose.Signer, opts ...Option) *Presenter {
	p := &Presenter{
		signer:  signer,
		builder: SDJWTBuilder{},
		sender:  chunked.NewSequencer(),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Present builds a presentation of credential disclosing the named claims for req and sends it over ch as a
// vp_token message.
func (p *Presenter) Present(ctx context.Context, ch transport.Channel, credential string, disclose []string,
	req *RequestObject) error {
	if ch == nil {
		return ErrNoChannel
	}

	if req == nil {
		return errors.New("request object is mandatory")
	}

	var binding *Binding

	if p.signer != nil {
		binding = &Binding{Audience: req.ClientID, Nonce: req.Nonce, IssuedAt: p.now(), Signer: p.signer}
	}

	presentation, err := p.builder.Build(credential, disclose, binding)
	if err != nil {
		return fmt.Errorf("failed to present credential: %w", err)
	}

	msg, err := json.Marshal(&Message{Type: VPTokenType, Value: map[string]string{"0": presentation}})
	if err != nil {
		return fmt.Errorf("failed to marshal presentation message: %w", err)
	}

	if err := p.sender.Send(ctx, ch, string(msg)); err != nil {
		return fmt.Errorf("failed to send presentation: %w", err)
	}

	logger.Infof("presented credential to [%s] disclosing %d claims", req.ClientID, len(disclose))

	return nil
}
