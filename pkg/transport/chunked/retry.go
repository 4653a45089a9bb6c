/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package chunked

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"

	"github.com/vdcs/dcx-go/pkg/transport"
)

// SendWithRetry sends payload and, whenever a fragment write fails, resends from that fragment under the same
// message id, waiting as b dictates. Errors other than ChunkSendError are not retried.
func SendWithRetry(ctx context.Context, s *Sequencer, ch transport.Channel, payload string, b backoff.BackOff) error {
	messageID := s.NewMessageID()
	start := 0

	return backoff.Retry(func() error {
		err := s.SendFrom(ctx, ch, messageID, payload, start)
		if err == nil {
			return nil
		}

		var cse *ChunkSendError
		if !errors.As(err, &cse) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}

		logger.Warnf("resending message [%s] from fragment %d: %v", messageID, cse.Index, cse.Cause)

		start = cse.Index

		return err
	}, backoff.WithContext(b, ctx))
}
