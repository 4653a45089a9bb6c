/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type serverSide struct {
	received chan string
	channels chan *Channel
}

func startServer(t *testing.T, opts ...Option) (*serverSide, string) {
	t.Helper()

	s := &serverSide{received: make(chan string, 16), channels: make(chan *Channel, 1)}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ch, err := Accept(w, r, opts...)
		if err != nil {
			return
		}

		_, err = ch.Monitor(func(raw string, err error) {
			if err == nil {
				s.received <- raw
			}
		})
		if err != nil {
			return
		}

		s.channels <- ch

		<-ch.Done()
	}))

	t.Cleanup(srv.Close)

	return s, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestChannel_WriteAndMonitor(t *testing.T) {
	server, url := startServer(t)

	client, err := Dial(context.Background(), url)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, client.Close())
	}()

	for _, msg := range []string{"MDozOkFC", "MTozOkNE", "MjozOkU="} {
		require.NoError(t, client.Write(context.Background(), msg))
	}

	for _, want := range []string{"MDozOkFC", "MTozOkNE", "MjozOkU="} {
		select {
		case got := <-server.received:
			require.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			require.FailNow(t, "timed out waiting for fragment")
		}
	}
}

func TestChannel_ServerToClient(t *testing.T) {
	server, url := startServer(t)

	client, err := Dial(context.Background(), url)
	require.NoError(t, err)

	received := make(chan string, 1)

	sub, err := client.Monitor(func(raw string, err error) {
		if err == nil {
			received <- raw
		}
	})
	require.NoError(t, err)

	_, err = client.Monitor(func(string, error) {})
	require.True(t, errors.Is(err, ErrAlreadyMonitored))

	serverCh := <-server.channels
	require.NoError(t, serverCh.Write(context.Background(), "cmVwbHk="))

	select {
	case got := <-received:
		require.Equal(t, "cmVwbHk=", got)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for reply")
	}

	sub.Remove()
	sub.Remove()

	_, err = client.Monitor(func(string, error) {})
	require.NoError(t, err)

	require.NoError(t, client.Close())

	select {
	case <-serverCh.Done():
	case <-time.After(5 * time.Second):
		require.FailNow(t, "server reader did not stop")
	}
}

func TestChannel_WriteLimit(t *testing.T) {
	_, url := startServer(t)

	client, err := Dial(context.Background(), url, WithMaxWriteSize(4))
	require.NoError(t, err)

	defer client.Close() //nolint:errcheck

	err = client.Write(context.Background(), "12345")
	require.True(t, errors.Is(err, ErrWriteTooLarge))
	require.NoError(t, client.Write(context.Background(), "1234"))
}

func TestChannel_Closed(t *testing.T) {
	_, url := startServer(t)

	client, err := Dial(context.Background(), url)
	require.NoError(t, err)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	require.True(t, errors.Is(client.Write(context.Background(), "x"), ErrClosed))

	_, err = client.Monitor(func(string, error) {})
	require.True(t, errors.Is(err, ErrClosed))

	select {
	case <-client.Done():
	case <-time.After(time.Second):
		require.FailNow(t, "done not closed")
	}
}

func TestDial(t *testing.T) {
	_, err := Dial(context.Background(), "")
	require.Error(t, err)

	_, err = Dial(context.Background(), "ws://127.0.0.1:1/none")
	require.Error(t, err)
	require.Contains(t, err.Error(), "websocket client")

	_, err = client(t).Monitor(nil)
	require.Error(t, err)
}

func client(t *testing.T) *Channel {
	t.Helper()

	_, url := startServer(t)

	c, err := Dial(context.Background(), url)
	require.NoError(t, err)

	t.Cleanup(func() { c.Close() }) //nolint:errcheck

	return c
}
