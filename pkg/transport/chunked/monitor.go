/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package chunked

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vdcs/dcx-go/pkg/chunk"
	"github.com/vdcs/dcx-go/pkg/chunk/assembler"
	"github.com/vdcs/dcx-go/pkg/transport"
)

// PayloadFunc receives complete payloads, or errors that the receiving side cannot recover from locally.
type PayloadFunc func(payload []byte, err error)

type monitorOptions struct {
	sweepInterval time.Duration
}

// MonitorOption configures Monitor.
type MonitorOption func(opts *monitorOptions)

// WithSweepInterval periodically evicts expired assembly buffers while the subscription is active.
func WithSweepInterval(d time.Duration) MonitorOption {
	return func(opts *monitorOptions) {
		opts.sweepInterval = d
	}
}

// Monitor binds asm to ch: every notification is fed to the assembler and complete payloads are handed to
// callback. Malformed fragments are logged and dropped. The assembler must not be shared with another
// subscription.
func Monitor(ch transport.Channel, asm *assembler.Assembler, callback PayloadFunc,
	opts ...MonitorOption) (transport.Subscription, error) {
	if asm == nil || callback == nil {
		return nil, errors.New("assembler and callback are mandatory")
	}

	o := &monitorOptions{}

	for _, opt := range opts {
		opt(o)
	}

	sub, err := ch.Monitor(func(raw string, err error) {
		if err != nil {
			callback(nil, fmt.Errorf("channel notification: %w", err))

			return
		}

		if raw == "" {
			return
		}

		payload, complete, err := asm.Receive(raw)

		var mfe *chunk.MalformedFragmentError

		switch {
		case errors.As(err, &mfe):
			logger.Warnf("dropping fragment: %v", err)
		case err != nil:
			callback(nil, err)
		case complete:
			callback(payload, nil)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("monitor channel: %w", err)
	}

	s := &monitorSubscription{sub: sub, stop: make(chan struct{})}

	if o.sweepInterval > 0 {
		go s.sweep(asm, o.sweepInterval)
	}

	return s, nil
}

type monitorSubscription struct {
	sub  transport.Subscription
	stop chan struct{}
	once sync.Once
}

func (m *monitorSubscription) Remove() {
	m.once.Do(func() {
		close(m.stop)
		m.sub.Remove()
	})
}

func (m *monitorSubscription) sweep(asm *assembler.Assembler, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if n := asm.Sweep(); n > 0 {
				logger.Debugf("evicted %d expired assembly buffers", n)
			}
		}
	}
}
