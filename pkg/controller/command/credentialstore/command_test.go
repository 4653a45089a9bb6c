/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package credentialstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	mockstorage "github.com/hyperledger/aries-framework-go/component/storageutil/mock/storage"
	"github.com/stretchr/testify/require"

	"github.com/vdcs/dcx-go/pkg/controller/command"
	"github.com/vdcs/dcx-go/internal/sdjwttest"
	"github.com/vdcs/dcx-go/pkg/store/credential"
)

func newCommand(t *testing.T) *Command {
	t.Helper()

	b, err := credential.NewSPIBackend(mem.NewProvider(), "credentials")
	require.NoError(t, err)

	s, err := credential.New(b)
	require.NoError(t, err)

	cmd, err := New(s)
	require.NoError(t, err)

	return cmd
}

func save(t *testing.T, cmd *Command, cred string) string {
	t.Helper()

	var b bytes.Buffer

	req, err := json.Marshal(&SaveRequest{Credential: cred})
	require.NoError(t, err)

	require.Nil(t, cmd.Save(&b, bytes.NewBuffer(req)))

	var res SaveResponse
	require.NoError(t, json.Unmarshal(b.Bytes(), &res))
	require.NotEmpty(t, res.ID)

	return res.ID
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	require.EqualError(t, err, "credential store is mandatory")

	cmd := newCommand(t)
	handlers := cmd.GetHandlers()
	require.Len(t, handlers, 5)

	for _, h := range handlers {
		require.Equal(t, commandName, h.Name())
		require.NotEmpty(t, h.Method())
		require.NotNil(t, h.Handle())
	}
}

func TestCommand_SaveGet(t *testing.T) {
	cmd := newCommand(t)

	t.Run("saved credential reads back with the default format", func(t *testing.T) {
		id := save(t, cmd, "raw-credential")

		var b bytes.Buffer

		cmdErr := cmd.Get(&b, bytes.NewBufferString(fmt.Sprintf(`{"id":%q}`, id)))
		require.Nil(t, cmdErr)

		var res CredentialRecord
		require.NoError(t, json.Unmarshal(b.Bytes(), &res))
		require.Equal(t, id, res.ID)
		require.Equal(t, "raw-credential", res.Credential)
		require.Equal(t, credential.FormatSDJWT, res.Format)
	})

	t.Run("explicit format is kept", func(t *testing.T) {
		var b bytes.Buffer

		cmdErr := cmd.Save(&b, bytes.NewBufferString(`{"credential":"abc","format":"mso_mdoc"}`))
		require.Nil(t, cmdErr)

		var saved SaveResponse
		require.NoError(t, json.Unmarshal(b.Bytes(), &saved))

		b.Reset()
		require.Nil(t, cmd.Get(&b, bytes.NewBufferString(fmt.Sprintf(`{"id":%q}`, saved.ID))))

		var res CredentialRecord
		require.NoError(t, json.Unmarshal(b.Bytes(), &res))
		require.Equal(t, "mso_mdoc", res.Format)
	})

	t.Run("invalid requests", func(t *testing.T) {
		var b bytes.Buffer

		cmdErr := cmd.Save(&b, bytes.NewBufferString("--"))
		require.NotNil(t, cmdErr)
		require.Equal(t, command.ValidationError, cmdErr.Type())
		require.Equal(t, InvalidRequestErrorCode, cmdErr.Code())

		cmdErr = cmd.Save(&b, bytes.NewBufferString(`{"format":"dc+sd-jwt"}`))
		require.NotNil(t, cmdErr)
		require.Contains(t, cmdErr.Error(), errEmptyCredential)

		cmdErr = cmd.Get(&b, bytes.NewBufferString("--"))
		require.NotNil(t, cmdErr)
		require.Equal(t, command.ValidationError, cmdErr.Type())

		cmdErr = cmd.Get(&b, bytes.NewBufferString(`{}`))
		require.NotNil(t, cmdErr)
		require.Contains(t, cmdErr.Error(), errEmptyCredentialID)
	})

	t.Run("absent credential is not found", func(t *testing.T) {
		var b bytes.Buffer

		cmdErr := cmd.Get(&b, bytes.NewBufferString(`{"id":"missing"}`))
		require.NotNil(t, cmdErr)
		require.Equal(t, command.NotFoundError, cmdErr.Type())
		require.Equal(t, GetCredentialErrorCode, cmdErr.Code())
		require.Empty(t, b.Bytes())
	})
}

func TestCommand_BackendErrors(t *testing.T) {
	provider := mockstorage.NewMockStoreProvider()

	b, err := credential.NewSPIBackend(provider, "credentials")
	require.NoError(t, err)

	s, err := credential.New(b)
	require.NoError(t, err)

	cmd, err := New(s)
	require.NoError(t, err)

	errBackend := errors.New("backend down")
	provider.Store.ErrPut = errBackend
	provider.Store.ErrGet = errBackend
	provider.Store.ErrQuery = errBackend

	var w bytes.Buffer

	cmdErr := cmd.Save(&w, bytes.NewBufferString(`{"credential":"abc"}`))
	require.NotNil(t, cmdErr)
	require.Equal(t, command.ExecuteError, cmdErr.Type())
	require.Equal(t, SaveCredentialErrorCode, cmdErr.Code())
	require.True(t, errors.Is(cmdErr, errBackend))

	cmdErr = cmd.Get(&w, bytes.NewBufferString(`{"id":"abc"}`))
	require.NotNil(t, cmdErr)
	require.Equal(t, command.ExecuteError, cmdErr.Type())
	require.Equal(t, GetCredentialErrorCode, cmdErr.Code())

	cmdErr = cmd.Delete(&w, bytes.NewBufferString(`{"id":"abc"}`))
	require.NotNil(t, cmdErr)
	require.Equal(t, DeleteCredentialErrorCode, cmdErr.Code())

	cmdErr = cmd.Query(&w, bytes.NewBufferString(`{}`))
	require.NotNil(t, cmdErr)
	require.Equal(t, QueryCredentialsErrorCode, cmdErr.Code())
}

func TestCommand_Delete(t *testing.T) {
	cmd := newCommand(t)
	id := save(t, cmd, "to-delete")

	var b bytes.Buffer

	require.Nil(t, cmd.Delete(&b, bytes.NewBufferString(fmt.Sprintf(`{"id":%q}`, id))))
	require.Equal(t, "{}\n", b.String())

	cmdErr := cmd.Get(&b, bytes.NewBufferString(fmt.Sprintf(`{"id":%q}`, id)))
	require.NotNil(t, cmdErr)
	require.Equal(t, command.NotFoundError, cmdErr.Type())

	b.Reset()
	require.Nil(t, cmd.Delete(&b, bytes.NewBufferString(fmt.Sprintf(`{"id":%q}`, id))))

	cmdErr = cmd.Delete(&b, bytes.NewBufferString(`{}`))
	require.NotNil(t, cmdErr)
	require.Equal(t, command.ValidationError, cmdErr.Type())
}

func TestCommand_Query(t *testing.T) {
	cmd := newCommand(t)

	aliceID := save(t, cmd, sdjwttest.Issue(t, map[string]interface{}{"vct": "vct-1", "given_name": "Alice"}))
	bobID := save(t, cmd, sdjwttest.Issue(t, map[string]interface{}{"vct": "vct-2", "given_name": "Bob"}))

	query := func(t *testing.T, body string) (*QueryResponse, command.Error) {
		t.Helper()

		var b bytes.Buffer

		cmdErr := cmd.Query(&b, bytes.NewBufferString(body))
		if cmdErr != nil {
			return nil, cmdErr
		}

		res := &QueryResponse{}
		require.NoError(t, json.Unmarshal(b.Bytes(), res))

		return res, nil
	}

	t.Run("no query lists everything", func(t *testing.T) {
		res, cmdErr := query(t, `{}`)
		require.Nil(t, cmdErr)
		require.Len(t, res.Credentials, 2)

		res, cmdErr = query(t, `{"query":null}`)
		require.Nil(t, cmdErr)
		require.Len(t, res.Credentials, 2)
	})

	t.Run("vct query selects one credential with its claims", func(t *testing.T) {
		res, cmdErr := query(t, `{"query":{"credentials":[
			{"id":"pid","format":"dc+sd-jwt","meta":{"vct_values":["vct-2"]},"claims":[{"path":["given_name"]}]}
		]}}`)
		require.Nil(t, cmdErr)
		require.Len(t, res.Credentials, 1)
		require.Equal(t, bobID, res.Credentials[0].ID)
		require.Equal(t, "Bob", res.Credentials[0].Claims["given_name"])
	})

	t.Run("claim value query", func(t *testing.T) {
		res, cmdErr := query(t, `{"query":{"credentials":[
			{"id":"pid","claims":[{"path":["given_name"],"values":["Alice"]}]}
		]}}`)
		require.Nil(t, cmdErr)
		require.Len(t, res.Credentials, 1)
		require.Equal(t, aliceID, res.Credentials[0].ID)
	})

	t.Run("unanswered query returns nothing", func(t *testing.T) {
		res, cmdErr := query(t, `{"query":{"credentials":[{"id":"pid","meta":{"vct_values":["vct-3"]}}]}}`)
		require.Nil(t, cmdErr)
		require.Empty(t, res.Credentials)
	})

	t.Run("invalid query", func(t *testing.T) {
		_, cmdErr := query(t, `{"query":{"credentials":[]}}`)
		require.NotNil(t, cmdErr)
		require.Equal(t, command.ValidationError, cmdErr.Type())
		require.Equal(t, InvalidRequestErrorCode, cmdErr.Code())

		_, cmdErr = query(t, `--`)
		require.NotNil(t, cmdErr)
		require.Equal(t, command.ValidationError, cmdErr.Type())
	})

	t.Run("undecodable record fails the listing", func(t *testing.T) {
		other := newCommand(t)
		save(t, other, "not-an-sd-jwt")

		var b bytes.Buffer

		cmdErr := other.Query(&b, bytes.NewBufferString(`{}`))
		require.NotNil(t, cmdErr)
		require.Equal(t, command.ExecuteError, cmdErr.Type())
	})
}

func TestCommand_Clear(t *testing.T) {
	cmd := newCommand(t)
	save(t, cmd, "one")
	save(t, cmd, "two")

	var b bytes.Buffer

	require.Nil(t, cmd.Clear(&b, nil))

	b.Reset()
	require.Nil(t, cmd.Query(&b, bytes.NewBufferString(`{}`)))

	var res QueryResponse
	require.NoError(t, json.Unmarshal(b.Bytes(), &res))
	require.Empty(t, res.Credentials)
}
