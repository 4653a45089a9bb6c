/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package assembler reassembles fragmented messages received in any order, with duplicates, into the original
// payload.
package assembler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/vdcs/dcx-go/pkg/chunk"
)

var logger = log.New("dcx/chunk/assembler")

const (
	// DefaultTTL is how long a buffer may sit idle before it is evicted.
	DefaultTTL = 30 * time.Second
	// DefaultMaxBuffers bounds the number of in-flight messages; the least recently touched one is evicted
	// first.
	DefaultMaxBuffers = 64

	legacyKeyPrefix = "legacy" + chunk.Delimiter
)

type slot struct {
	data    string
	present bool
}

type buffer struct {
	key       string
	total     int
	slots     []slot
	filled    int
	completed bool
}

func newBuffer(key string, total int) *buffer {
	return &buffer{key: key, total: total, slots: make([]slot, total)}
}

// put writes data into slot index. Rewriting a slot overwrites it without changing the fill count.
func (b *buffer) put(index int, data string) {
	if !b.slots[index].present {
		b.filled++
	}

	b.slots[index] = slot{data: data, present: true}
}

func (b *buffer) isComplete() bool {
	return b.filled == b.total
}

func (b *buffer) join() string {
	var sb strings.Builder

	for _, s := range b.slots {
		sb.WriteString(s.data)
	}

	return sb.String()
}

type options struct {
	ttl             time.Duration
	maxBuffers      int
	wireEncoding    chunk.Encoding
	payloadEncoding chunk.Encoding
	clock           gcache.Clock
}

// Option configures an Assembler.
type Option func(opts *options)

// WithTTL sets how long a buffer may go without receiving a fragment before it is evicted.
func WithTTL(ttl time.Duration) Option {
	return func(opts *options) {
		opts.ttl = ttl
	}
}

// WithMaxBuffers bounds the number of concurrently assembled messages.
func WithMaxBuffers(n int) Option {
	return func(opts *options) {
		opts.maxBuffers = n
	}
}

// WithWireEncoding sets the encoding wrapping each fragment envelope on the channel.
func WithWireEncoding(enc chunk.Encoding) Option {
	return func(opts *options) {
		opts.wireEncoding = enc
	}
}

// WithPayloadEncoding sets the encoding of the assembled payload.
func WithPayloadEncoding(enc chunk.Encoding) Option {
	return func(opts *options) {
		opts.payloadEncoding = enc
	}
}

// WithClock overrides the clock used for expiry.
func WithClock(clock gcache.Clock) Option {
	return func(opts *options) {
		opts.clock = clock
	}
}

// Assembler holds the assembly buffers of one channel subscription. Buffers are keyed by the message id
// carried in each fragment and removed the moment their message completes.
type Assembler struct {
	buffers         gcache.Cache
	wireEncoding    chunk.Encoding
	payloadEncoding chunk.Encoding
	mu              sync.Mutex
}

// New returns an Assembler.
func New(opts ...Option) *Assembler {
	o := &options{
		ttl:             DefaultTTL,
		maxBuffers:      DefaultMaxBuffers,
		wireEncoding:    chunk.Base64Encoding(),
		payloadEncoding: chunk.Base64Encoding(),
		clock:           gcache.NewRealClock(),
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.maxBuffers < 1 {
		o.maxBuffers = DefaultMaxBuffers
	}

	builder := gcache.New(o.maxBuffers).LRU().Clock(o.clock).EvictedFunc(onEvicted)
	if o.ttl > 0 {
		builder = builder.Expiration(o.ttl)
	}

	return &Assembler{
		buffers:         builder.Build(),
		wireEncoding:    o.wireEncoding,
		payloadEncoding: o.payloadEncoding,
	}
}

func onEvicted(_, value interface{}) {
	b, ok := value.(*buffer)
	if !ok || b.completed {
		return
	}

	logger.Debugf("evicted incomplete message [%s]: %d of %d fragments received", b.key, b.filled, b.total)
}

// Receive consumes one raw fragment as delivered by the channel. When the fragment completes its message, the
// decoded payload is returned with complete set to true. Malformed fragments fail with
// *chunk.MalformedFragmentError and leave every buffer untouched.
func (a *Assembler) Receive(raw string) ([]byte, bool, error) {
	f, err := chunk.ParseFragment(raw, a.wireEncoding)
	if err != nil {
		return nil, false, err
	}

	return a.Add(f)
}

// Add consumes an already parsed fragment.
func (a *Assembler) Add(f *chunk.Fragment) ([]byte, bool, error) {
	if f.Total < 1 || f.Index < 0 || f.Index >= f.Total {
		return nil, false, &chunk.MalformedFragmentError{
			Reason: fmt.Sprintf("index %d out of range [0, %d)", f.Index, f.Total),
		}
	}

	key := bufferKey(f)

	a.mu.Lock()
	defer a.mu.Unlock()

	b, err := a.lookup(key)
	if err != nil {
		return nil, false, err
	}

	if b == nil {
		b = newBuffer(key, f.Total)
	} else if b.total != f.Total {
		return nil, false, &chunk.MalformedFragmentError{
			Reason: fmt.Sprintf("message [%s] has %d fragments, fragment claims %d", key, b.total, f.Total),
		}
	}

	b.put(f.Index, f.Data)

	if !b.isComplete() {
		// re-setting refreshes the idle deadline.
		if err := a.buffers.Set(key, b); err != nil {
			return nil, false, fmt.Errorf("store assembly buffer [%s]: %w", key, err)
		}

		return nil, false, nil
	}

	b.completed = true
	a.buffers.Remove(key)

	payload, err := a.payloadEncoding.Decode(b.join())
	if err != nil {
		return nil, false, fmt.Errorf("decode assembled payload of message [%s]: %w", key, err)
	}

	return payload, true, nil
}

func (a *Assembler) lookup(key string) (*buffer, error) {
	v, err := a.buffers.Get(key)
	if errors.Is(err, gcache.KeyNotFoundError) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("load assembly buffer [%s]: %w", key, err)
	}

	b, ok := v.(*buffer)
	if !ok {
		return nil, fmt.Errorf("unexpected assembly buffer type %T", v)
	}

	return b, nil
}

// Pending returns the number of live buffers. Expired buffers found on the way are evicted.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	live, _ := a.scan()

	return live
}

// Sweep evicts every expired buffer and returns how many were removed.
func (a *Assembler) Sweep() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, expired := a.scan()

	return expired
}

// scan touches every buffer; the cache drops expired entries on access.
func (a *Assembler) scan() (live, expired int) {
	for _, key := range a.buffers.Keys(false) {
		if _, err := a.buffers.GetIFPresent(key); err != nil {
			expired++

			continue
		}

		live++
	}

	return live, expired
}

// Reset drops every buffer.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buffers.Purge()
}

// bufferKey groups fragments by message id. Legacy fragments carry none and are grouped by their fragment count,
// so two concurrent legacy messages of equal length collide.
func bufferKey(f *chunk.Fragment) string {
	if f.MessageID != "" {
		return f.MessageID
	}

	return legacyKeyPrefix + strconv.Itoa(f.Total)
}
