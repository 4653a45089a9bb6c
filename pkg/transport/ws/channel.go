/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ws carries chunked fragments over a websocket connection, one text message per fragment.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/hyperledger/aries-framework-go/component/log"
	"nhooyr.io/websocket"

	"github.com/vdcs/dcx-go/pkg/transport"
)

var logger = log.New("dcx/transport/ws")

var (
	// ErrWriteTooLarge is returned when a fragment exceeds the channel's per-write limit.
	ErrWriteTooLarge = errors.New("fragment exceeds channel write limit")
	// ErrAlreadyMonitored is returned when a second subscription is requested on one channel.
	ErrAlreadyMonitored = errors.New("channel already has a subscription")
	// ErrClosed is returned for operations on a closed channel.
	ErrClosed = errors.New("channel closed")
)

type options struct {
	maxWrite  int
	readLimit int64
}

// Option configures a Channel.
type Option func(opts *options)

// WithMaxWriteSize sets the per-write limit enforced before hitting the connection. Zero disables it.
func WithMaxWriteSize(n int) Option {
	return func(opts *options) {
		opts.maxWrite = n
	}
}

// WithReadLimit sets the maximum size of one inbound message.
func WithReadLimit(n int64) Option {
	return func(opts *options) {
		opts.readLimit = n
	}
}

// Channel is a transport.Channel backed by one websocket connection.
type Channel struct {
	conn     *websocket.Conn
	maxWrite int
	cancel   context.CancelFunc
	ctx      context.Context

	lock      sync.Mutex
	notify    transport.NotifyFunc
	reading   bool
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to a websocket endpoint.
func Dial(ctx context.Context, url string, opts ...Option) (*Channel, error) {
	if url == "" {
		return nil, errors.New("url is mandatory")
	}

	conn, _, err := websocket.Dial(ctx, url, nil) //nolint:bodyclose
	if err != nil {
		return nil, fmt.Errorf("websocket client : %w", err)
	}

	return New(conn, opts...), nil
}

// Accept accepts a websocket handshake from a client and wraps the connection.
func Accept(w http.ResponseWriter, r *http.Request, opts ...Option) (*Channel, error) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket accept : %w", err)
	}

	return New(conn, opts...), nil
}

// New wraps an established connection.
func New(conn *websocket.Conn, opts ...Option) *Channel {
	o := &options{}

	for _, opt := range opts {
		opt(o)
	}

	if o.readLimit > 0 {
		conn.SetReadLimit(o.readLimit)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Channel{
		conn:     conn,
		maxWrite: o.maxWrite,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Write sends one encoded fragment as a text message.
func (c *Channel) Write(ctx context.Context, encodedFragment string) error {
	if c.isClosed() {
		return ErrClosed
	}

	if c.maxWrite > 0 && len(encodedFragment) > c.maxWrite {
		return fmt.Errorf("%w: %d > %d", ErrWriteTooLarge, len(encodedFragment), c.maxWrite)
	}

	if err := c.conn.Write(ctx, websocket.MessageText, []byte(encodedFragment)); err != nil {
		return fmt.Errorf("websocket write message : %w", err)
	}

	return nil
}

// Monitor delivers inbound text messages to notify, one at a time. Only one subscription may be active.
func (c *Channel) Monitor(notify transport.NotifyFunc) (transport.Subscription, error) {
	if notify == nil {
		return nil, errors.New("notify func is mandatory")
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	if c.notify != nil {
		return nil, ErrAlreadyMonitored
	}

	c.notify = notify

	if !c.reading {
		c.reading = true

		go c.listen()
	}

	return &subscription{channel: c}, nil
}

// Done is closed once the reader stops.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection.
func (c *Channel) Close() error {
	var err error

	c.closeOnce.Do(func() {
		c.lock.Lock()
		c.closed = true
		reading := c.reading
		c.lock.Unlock()

		err = c.conn.Close(websocket.StatusNormalClosure, "closing the connection")
		if err != nil && websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			err = nil
		}

		c.cancel()

		if !reading {
			close(c.done)
		}
	})

	return err
}

func (c *Channel) listen() {
	defer close(c.done)

	for {
		messageType, message, err := c.conn.Read(c.ctx)
		if err != nil {
			if !c.isClosed() && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				logger.Errorf("Error reading fragment: %v", err)
				c.deliver("", fmt.Errorf("websocket read message : %w", err))
			}

			return
		}

		if messageType != websocket.MessageText {
			logger.Warnf("dropping non-text message of %d bytes", len(message))

			continue
		}

		c.deliver(string(message), nil)
	}
}

func (c *Channel) deliver(raw string, err error) {
	c.lock.Lock()
	notify := c.notify
	c.lock.Unlock()

	if notify == nil {
		logger.Debugf("no subscription, dropping inbound message")

		return
	}

	notify(raw, err)
}

func (c *Channel) isClosed() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.closed
}

func (c *Channel) unsubscribe() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.notify = nil
}

type subscription struct {
	channel *Channel
	once    sync.Once
}

func (s *subscription) Remove() {
	s.once.Do(s.channel.unsubscribe)
}
