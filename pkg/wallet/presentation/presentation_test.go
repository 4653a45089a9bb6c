/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package presentation

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	afjwt "github.com/hyperledger/aries-framework-go/component/models/jwt"
	"github.com/hyperledger/aries-framework-go/component/models/sdjwt/common"
	"github.com/stretchr/testify/require"

	"github.com/vdcs/dcx-go/pkg/chunk/assembler"
	"github.com/vdcs/dcx-go/pkg/doc/sdjwt"
	mocktransport "github.com/vdcs/dcx-go/pkg/internal/gomocks/transport"
	"github.com/vdcs/dcx-go/internal/sdjwttest"
	"github.com/vdcs/dcx-go/pkg/transport/chunked"
)

// recordingChannel expects any number of writes and reassembles them into the received message.
func recordingChannel(t *testing.T, ctrl *gomock.Controller) (*mocktransport.MockChannel, func() *Message) {
	t.Helper()

	asm := assembler.New()
	ch := mocktransport.NewMockChannel(ctrl)

	var received []byte

	ch.EXPECT().Write(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, raw string) error {
		payload, complete, err := asm.Receive(raw)
		require.NoError(t, err)

		if complete {
			received = payload
		}

		return nil
	}).AnyTimes()

	return ch, func() *Message {
		require.NotNil(t, received, "no complete message received")

		msg := &Message{}
		require.NoError(t, json.Unmarshal(received, msg))

		return msg
	}
}

func fastSender() Option {
	return WithSender(chunked.NewSequencer(chunked.WithPacing(0)))
}

func TestPresenter_Present(t *testing.T) {
	credential := sdjwttest.Issue(t, map[string]interface{}{
		"vct": "vct-1", "given_name": "Alice", "family_name": "Smith", "birthdate": "1990-01-01",
	})

	holderPub, holderPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	req := &RequestObject{ClientID: "https://verifier.example.com", Nonce: "n-0S6_WzA2Mj"}
	issuedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("sends a key bound vp_token", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		ch, received := recordingChannel(t, ctrl)

		p := New(afjwt.NewEd25519Signer(holderPriv), fastSender(),
			WithClock(func() time.Time { return issuedAt }))

		require.NoError(t, p.Present(context.Background(), ch, credential, []string{"given_name"}, req))

		msg := received()
		require.Equal(t, VPTokenType, msg.Type)
		require.Len(t, msg.Value, 1)

		presentation := msg.Value["0"]
		require.True(t, strings.HasPrefix(presentation, common.ParseCombinedFormatForIssuance(credential).SDJWT))

		claims, err := sdjwt.DecodeClaims(presentation)
		require.NoError(t, err)
		require.Equal(t, "Alice", claims["given_name"])
		require.NotContains(t, claims, "family_name")
		require.NotContains(t, claims, "birthdate")

		cfp := common.ParseCombinedFormatForPresentation(presentation)
		require.Len(t, cfp.Disclosures, 1)
		require.NotEmpty(t, cfp.HolderVerification)

		verifier, err := afjwt.NewEd25519Verifier(holderPub)
		require.NoError(t, err)

		kb, _, err := afjwt.Parse(cfp.HolderVerification, afjwt.WithSignatureVerifier(verifier))
		require.NoError(t, err)
		require.Equal(t, req.ClientID, kb.Payload["aud"])
		require.Equal(t, req.Nonce, kb.Payload["nonce"])
		require.EqualValues(t, issuedAt.Unix(), kb.Payload["iat"])
	})

	t.Run("without signer", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		ch, received := recordingChannel(t, ctrl)

		require.NoError(t, New(nil, fastSender()).Present(context.Background(), ch, credential,
			[]string{"given_name", "birthdate"}, req))

		presentation := received().Value["0"]
		require.True(t, strings.HasSuffix(presentation, common.CombinedFormatSeparator))

		claims, err := sdjwt.DecodeClaims(presentation)
		require.NoError(t, err)
		require.Equal(t, "1990-01-01", claims["birthdate"])
	})

	t.Run("unknown claim", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		err := New(nil, fastSender()).Present(context.Background(), mocktransport.NewMockChannel(ctrl), credential,
			[]string{"email"}, req)
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to present credential")
	})

	t.Run("send failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		ch := mocktransport.NewMockChannel(ctrl)
		ch.EXPECT().Write(gomock.Any(), gomock.Any()).Return(errors.New("disconnected"))

		err := New(nil, fastSender()).Present(context.Background(), ch, credential, nil, req)

		var cse *chunked.ChunkSendError
		require.True(t, errors.As(err, &cse))
		require.Equal(t, 0, cse.Index)
	})

	t.Run("no channel", func(t *testing.T) {
		err := New(nil).Present(context.Background(), nil, credential, nil, req)
		require.True(t, errors.Is(err, ErrNoChannel))
	})

	t.Run("no request", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		err := New(nil).Present(context.Background(), mocktransport.NewMockChannel(ctrl), credential, nil, nil)
		require.Error(t, err)
	})

	t.Run("custom builder", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		ch, received := recordingChannel(t, ctrl)

		b := builderFunc(func(c string, disclose []string, binding *Binding) (string, error) {
			require.Equal(t, credential, c)
			require.Equal(t, []string{"vct"}, disclose)
			require.Nil(t, binding)

			return "opaque-presentation", nil
		})

		require.NoError(t, New(nil, fastSender(), WithBuilder(b)).Present(context.Background(), ch, credential,
			[]string{"vct"}, req))
		require.Equal(t, "opaque-presentation", received().Value["0"])
	})
}

type builderFunc func(credential string, disclose []string, binding *Binding) (string, error)

func (f builderFunc) Build(credential string, disclose []string, binding *Binding) (string, error) {
	return f(credential, disclose, binding)
}
