/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/vdcs/dcx-go/pkg/chunk/assembler"
	"github.com/vdcs/dcx-go/pkg/controller/command/credentialstore"
	"github.com/vdcs/dcx-go/internal/sdjwttest"
	"github.com/vdcs/dcx-go/pkg/store/credential"
	"github.com/vdcs/dcx-go/pkg/transport/chunked"
	"github.com/vdcs/dcx-go/pkg/transport/ws"
)

type mockServer struct {
	handler http.Handler
}

func (s *mockServer) ListenAndServe(host string, handler http.Handler, certFile, keyFile string) error {
	s.handler = handler

	return nil
}

func TestStartCmdContents(t *testing.T) {
	startCmd, err := Cmd(&mockServer{})
	require.NoError(t, err)

	require.Equal(t, "start", startCmd.Use)
	require.Equal(t, "Start a wallet", startCmd.Short)
	require.Equal(t, "Start a wallet credential store controller", startCmd.Long)

	checkFlagPropertiesCorrect(t, startCmd, apiHostFlagName, apiHostFlagShorthand, apiHostFlagUsage, "")
	checkFlagPropertiesCorrect(t, startCmd, databaseTypeFlagName, databaseTypeFlagShorthand, databaseTypeFlagUsage, "")
	checkFlagPropertiesCorrect(t, startCmd, chunkTTLFlagName, "", chunkTTLFlagUsage, "")
}

func checkFlagPropertiesCorrect(t *testing.T, cmd *cobra.Command, flagName,
	flagShorthand, flagUsage, expectedVal string) {
	flag := cmd.Flag(flagName)

	require.NotNil(t, flag)
	require.Equal(t, flagName, flag.Name)
	require.Equal(t, flagShorthand, flag.Shorthand)
	require.Equal(t, flagUsage, flag.Usage)
	require.Equal(t, expectedVal, flag.Value.String())

	flagAnnotations := flag.Annotations
	require.Nil(t, flagAnnotations)
}

func runStart(t *testing.T, server server, args ...string) error {
	t.Helper()

	startCmd, err := Cmd(server)
	require.NoError(t, err)

	startCmd.SetArgs(args)

	return startCmd.Execute()
}

func TestStartCmdWithBlankHostArg(t *testing.T) {
	err := runStart(t, &mockServer{}, "--"+apiHostFlagName, "", "--"+databaseTypeFlagName, "mem")
	require.Equal(t, errMissingHost.Error(), err.Error())
}

func TestStartCmdWithMissingHostArg(t *testing.T) {
	err := runStart(t, &mockServer{}, "--"+databaseTypeFlagName, "mem")
	require.Equal(t,
		"Neither api-host (command line flag) nor DCX_API_HOST (environment variable) have been set.",
		err.Error())
}

func TestStartCmdWithoutDBType(t *testing.T) {
	err := runStart(t, &mockServer{}, "--"+apiHostFlagName, "localhost:8080")
	require.Equal(t,
		"Neither database-type (command line flag) nor DCX_DATABASE_TYPE (environment variable) have been set.",
		err.Error())
}

func TestStartCmdInvalidArgs(t *testing.T) {
	base := []string{"--" + apiHostFlagName, "localhost:8080"}

	tests := []struct {
		name string
		args []string
		err  string
	}{
		{
			name: "unsupported database",
			args: []string{"--" + databaseTypeFlagName, "couchdb"},
			err:  "database type not set to a valid type",
		},
		{
			name: "invalid log level",
			args: []string{"--" + databaseTypeFlagName, "mem", "--" + logLevelFlagName, "INVALID"},
			err:  "failed to parse log level 'INVALID'",
		},
		{
			name: "invalid db timeout",
			args: []string{"--" + databaseTypeFlagName, "mem", "--" + databaseTimeoutFlagName, "soon"},
			err:  "failed to parse db timeout soon",
		},
		{
			name: "invalid chunk size",
			args: []string{"--" + databaseTypeFlagName, "mem", "--" + chunkSizeFlagName, "big"},
			err:  "failed to parse chunk-size big",
		},
		{
			name: "zero chunk size",
			args: []string{"--" + databaseTypeFlagName, "mem", "--" + chunkSizeFlagName, "0"},
			err:  "invalid chunk size 0",
		},
		{
			name: "invalid max value size",
			args: []string{"--" + databaseTypeFlagName, "mem", "--" + maxValueSizeFlagName, "x"},
			err:  "failed to parse max-value-size x",
		},
		{
			name: "invalid ttl",
			args: []string{"--" + databaseTypeFlagName, "mem", "--" + chunkTTLFlagName, "30"},
			err:  "failed to parse chunk-ttl 30",
		},
		{
			name: "invalid pacing",
			args: []string{"--" + databaseTypeFlagName, "mem", "--" + chunkPacingFlagName, "fast"},
			err:  "failed to parse chunk-pacing fast",
		},
		{
			name: "leveldb without path",
			args: []string{"--" + databaseTypeFlagName, "leveldb", "--" + databaseTimeoutFlagName, "1"},
			err:  "leveldb requires a database url",
		},
	}

	for _, tc := range tests {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			err := runStart(t, &mockServer{}, append(base, tc.args...)...)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.err)
		})
	}
}

func TestStartCmdValidArgs(t *testing.T) {
	server := &mockServer{}

	err := runStart(t, server,
		"--"+apiHostFlagName, "localhost:8080",
		"--"+databaseTypeFlagName, "leveldb",
		"--"+databaseURLFlagName, t.TempDir(),
		"--"+logLevelFlagName, "DEBUG",
		"--"+chunkSizeFlagName, "512",
		"--"+chunkTTLFlagName, "5s",
	)
	require.NoError(t, err)
	require.NotNil(t, server.handler)
}

func TestStartCmdValidArgsEnvVar(t *testing.T) {
	t.Setenv(apiHostEnvKey, "localhost:8080")
	t.Setenv(databaseTypeEnvKey, "mem")
	t.Setenv(maxValueSizeEnvKey, "0")

	server := &mockServer{}

	require.NoError(t, runStart(t, server))
	require.NotNil(t, server.handler)
}

func newTestServer(t *testing.T, token string) *httptest.Server {
	t.Helper()

	handler, err := createHandler(&walletParameters{
		token:        token,
		dbParam:      &dbParam{dbType: databaseTypeMemOption},
		chunkSize:    credential.DefaultChunkSize,
		maxValueSize: credential.DefaultMaxValueSize,
		chunkTTL:     time.Second,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return srv
}

func TestInbound(t *testing.T) {
	srv := newTestServer(t, "")
	cred := sdjwttest.Issue(t, map[string]interface{}{"vct": "vct-1", "given_name": "Alice"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+inboundPath)
	require.NoError(t, err)

	defer ch.Close() // nolint:errcheck

	replies := make(chan []byte, 1)

	sub, err := chunked.Monitor(ch, assembler.New(), func(payload []byte, err error) {
		require.NoError(t, err)
		replies <- payload
	})
	require.NoError(t, err)

	defer sub.Remove()

	seq := chunked.NewSequencer(chunked.WithPacing(0), chunked.WithMaxChunkSize(64))
	require.NoError(t, seq.Send(ctx, ch, cred))

	var reply inboundReply

	select {
	case raw := <-replies:
		require.NoError(t, json.Unmarshal(raw, &reply))
	case <-ctx.Done():
		t.Fatal("no reply from inbound endpoint")
	}

	require.Empty(t, reply.Error)
	require.NotEmpty(t, reply.ID)

	resp, err := http.Get(fmt.Sprintf("%s/credentials/%s", srv.URL, reply.ID)) // nolint:noctx
	require.NoError(t, err)

	defer func() {
		require.NoError(t, resp.Body.Close())
	}()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)

	var record credentialstore.CredentialRecord
	require.NoError(t, json.Unmarshal(body, &record))
	require.Equal(t, cred, record.Credential)
	require.Equal(t, credential.FormatSDJWT, record.Format)
}

func TestStartWalletWithAuthorization(t *testing.T) {
	const token = "abc"

	srv := newTestServer(t, token)

	body, err := json.Marshal(&credentialstore.SaveRequest{Credential: "cred"})
	require.NoError(t, err)

	post := func(authorization string) int {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/credentials", bytes.NewBuffer(body))
		require.NoError(t, err)

		if authorization != "" {
			req.Header.Add("Authorization", authorization)
		}

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())

		return resp.StatusCode
	}

	require.Equal(t, http.StatusUnauthorized, post(""))
	require.Equal(t, http.StatusUnauthorized, post("Bearer wrong"))
	require.Equal(t, http.StatusOK, post("Bearer "+token))
}

func TestToRecord(t *testing.T) {
	r := toRecord([]byte(`{"credential":"abc","format":"mso_mdoc"}`))
	require.Equal(t, &credential.Record{Credential: "abc", Format: "mso_mdoc"}, r)

	r = toRecord([]byte(`{"credential":"abc"}`))
	require.Equal(t, credential.FormatSDJWT, r.Format)

	r = toRecord([]byte("header.payload.sig~disclosure~"))
	require.Equal(t, "header.payload.sig~disclosure~", r.Credential)
	require.Equal(t, credential.FormatSDJWT, r.Format)
}
