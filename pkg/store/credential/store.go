/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package credential stores wallet credentials in a size capped key-value backend. Each record is kept as one
// metadata entry plus as many chunk entries as its serialised form needs.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/vdcs/dcx-go/pkg/chunk"
	"github.com/vdcs/dcx-go/pkg/doc/sdjwt"
)

var logger = log.New("dcx/store/credential")

const (
	// DefaultChunkSize is the largest chunk entry written, in bytes.
	DefaultChunkSize = 1950

	// FormatSDJWT is the format tag of SD-JWT VC records.
	FormatSDJWT = "dc+sd-jwt"

	metadataKeyPrefix = "credential."
	chunkKeyPrefix    = "chunk."
)

type options struct {
	chunkSize int
	newID     func() string
	decoders  map[string]ClaimsDecoder
}

// Option configures a Store.
type Option func(opts *options)

// WithChunkSize sets the largest chunk entry written. The backend's own cap still applies when it is smaller.
func WithChunkSize(n int) Option {
	return func(opts *options) {
		opts.chunkSize = n
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(fn func() string) Option {
	return func(opts *options) {
		opts.newID = fn
	}
}

// WithFormatDecoder registers the claims decoder of a format, replacing any previous one.
// A nil decoder unregisters the format.
func WithFormatDecoder(format string, decoder ClaimsDecoder) Option {
	return func(opts *options) {
		if decoder == nil {
			delete(opts.decoders, format)

			return
		}

		opts.decoders[format] = decoder
	}
}

// Store is the chunked credential record store.
type Store struct {
	backend Backend
	opts    options
	locks   *idLocks
}

// New returns a Store on top of backend.
func New(backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("backend is mandatory")
	}

	o := options{
		chunkSize: DefaultChunkSize,
		newID:     uuid.NewString,
		decoders:  map[string]ClaimsDecoder{FormatSDJWT: sdjwt.DecodeClaims},
	}

	for _, opt := range opts {
		opt(&o)
	}

	if o.chunkSize < 1 {
		return nil, fmt.Errorf("invalid chunk size %d", o.chunkSize)
	}

	return &Store{backend: backend, opts: o, locks: newIDLocks()}, nil
}

// Save stores record under a fresh id and returns the id. The metadata entry is written first, then every chunk
// in index order. If a chunk write fails, the entries already written are removed again.
func (s *Store) Save(record *Record) (string, error) {
	if record == nil {
		return "", errors.New("record is mandatory")
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}

	chunks, err := chunk.Split(string(raw), s.chunkSize())
	if err != nil {
		return "", fmt.Errorf("failed to split record: %w", err)
	}

	id := s.opts.newID()

	unlock := s.locks.lock(id)
	defer unlock()

	meta, err := json.Marshal(&Metadata{
		ID:          id,
		Format:      record.Format,
		TotalChunks: len(chunks),
		TotalSize:   len(raw),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := s.backend.Set(metadataKey(id), string(meta)); err != nil {
		return "", fmt.Errorf("failed to save metadata of record [%s]: %w", id, err)
	}

	for i, c := range chunks {
		if err := s.backend.Set(chunkKey(id, i), c); err != nil {
			s.rollback(id, i)

			return "", fmt.Errorf("failed to save chunk %d of record [%s]: %w", i, id, err)
		}
	}

	logger.Debugf("saved record [%s] in %d chunks", id, len(chunks))

	return id, nil
}

// rollback removes the first written chunks of an unfinished save and then its metadata, so a failed save
// never leaves a record that breaks List.
func (s *Store) rollback(id string, written int) {
	for i := 0; i < written; i++ {
		if err := s.backend.Remove(chunkKey(id, i)); err != nil {
			logger.Warnf("failed to remove chunk %d of unfinished record [%s]: %v", i, id, err)
		}
	}

	if err := s.backend.Remove(metadataKey(id)); err != nil {
		logger.Warnf("failed to remove metadata of unfinished record [%s]: %v", id, err)
	}
}

// LoadRaw returns the serialised record exactly as it was saved. A record without metadata is reported absent;
// one with a missing chunk fails with *IncompleteRecordError.
func (s *Store) LoadRaw(id string) (string, bool, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	return s.loadRaw(id)
}

func (s *Store) loadRaw(id string) (string, bool, error) {
	meta, ok, err := s.metadata(id)
	if err != nil || !ok {
		return "", false, err
	}

	var sb strings.Builder

	sb.Grow(meta.TotalSize)

	for i := 0; i < meta.TotalChunks; i++ {
		c, ok, err := s.backend.Get(chunkKey(id, i))
		if err != nil {
			return "", false, fmt.Errorf("failed to read chunk %d of record [%s]: %w", i, id, err)
		}

		if !ok {
			return "", false, &IncompleteRecordError{RecordID: id, ChunkIndex: i, Err: ErrChunkMissing}
		}

		sb.WriteString(c)
	}

	if sb.Len() != meta.TotalSize {
		return "", false, fmt.Errorf("record [%s] is %d bytes, metadata declares %d", id, sb.Len(), meta.TotalSize)
	}

	return sb.String(), true, nil
}

// Load returns the record stored under id, or nil when there is none.
func (s *Store) Load(id string) (*Record, error) {
	raw, ok, err := s.LoadRaw(id)
	if err != nil || !ok {
		return nil, err
	}

	return unmarshalRecord(id, raw)
}

// Delete removes the chunks then the metadata of record id. Deleting an absent record is a no-op.
func (s *Store) Delete(id string) error {
	unlock := s.locks.lock(id)
	defer unlock()

	meta, ok, err := s.metadata(id)
	if err != nil || !ok {
		return err
	}

	for i := 0; i < meta.TotalChunks; i++ {
		if err := s.backend.Remove(chunkKey(id, i)); err != nil {
			return fmt.Errorf("failed to remove chunk %d of record [%s]: %w", i, id, err)
		}
	}

	if err := s.backend.Remove(metadataKey(id)); err != nil {
		return fmt.Errorf("failed to remove metadata of record [%s]: %w", id, err)
	}

	logger.Debugf("deleted record [%s]", id)

	return nil
}

// List reconstructs every stored record and decodes its claims. Any unreadable record, or one whose format has no
// decoder, fails the whole listing. With a non-nil matcher, only the records it matched are returned, in its order.
func (s *Store) List(matcher Matcher) ([]*Credential, error) {
	keys, err := s.backend.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	var ids []string

	for _, k := range keys {
		if strings.HasPrefix(k, metadataKeyPrefix) {
			ids = append(ids, strings.TrimPrefix(k, metadataKeyPrefix))
		}
	}

	sort.Strings(ids)

	credentials := make([]*Credential, 0, len(ids))

	for _, id := range ids {
		c, err := s.reconstruct(id)
		if err != nil {
			return nil, err
		}

		if c != nil {
			credentials = append(credentials, c)
		}
	}

	if matcher == nil {
		return credentials, nil
	}

	result, err := matcher.Match(credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to match credentials: %w", err)
	}

	if result == nil || !result.Matched {
		return []*Credential{}, nil
	}

	return result.Records, nil
}

func (s *Store) reconstruct(id string) (*Credential, error) {
	raw, ok, err := s.LoadRaw(id)
	if err != nil {
		return nil, err
	}

	// deleted since the keys were listed
	if !ok {
		return nil, nil
	}

	record, err := unmarshalRecord(id, raw)
	if err != nil {
		return nil, err
	}

	decode, ok := s.opts.decoders[record.Format]
	if !ok {
		return nil, &UnsupportedFormatError{RecordID: id, Format: record.Format}
	}

	claims, err := decode(record.Credential)
	if err != nil {
		return nil, fmt.Errorf("failed to decode claims of record [%s]: %w", id, err)
	}

	return &Credential{ID: id, Record: record, Claims: claims}, nil
}

// Clear removes every entry of the store's namespace. Removal carries on past failures; the first one is
// returned.
func (s *Store) Clear() error {
	keys, err := s.backend.Keys()
	if err != nil {
		logger.Warnf("failed to list keys, clearing whole backend: %v", err)

		return s.backend.Clear()
	}

	var first error

	for _, k := range keys {
		if !strings.HasPrefix(k, metadataKeyPrefix) && !strings.HasPrefix(k, chunkKeyPrefix) {
			continue
		}

		if err := s.backend.Remove(k); err != nil {
			logger.Warnf("failed to remove [%s]: %v", k, err)

			if first == nil {
				first = fmt.Errorf("failed to clear store: %w", err)
			}
		}
	}

	return first
}

func (s *Store) metadata(id string) (*Metadata, bool, error) {
	raw, ok, err := s.backend.Get(metadataKey(id))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read metadata of record [%s]: %w", id, err)
	}

	if !ok {
		return nil, false, nil
	}

	meta := &Metadata{}
	if err := json.Unmarshal([]byte(raw), meta); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal metadata of record [%s]: %w", id, err)
	}

	if meta.TotalChunks < 1 {
		return nil, false, fmt.Errorf("record [%s] declares %d chunks", id, meta.TotalChunks)
	}

	return meta, true, nil
}

func (s *Store) chunkSize() int {
	if c := s.backend.MaxValueSize(); c > 0 && c < s.opts.chunkSize {
		return c
	}

	return s.opts.chunkSize
}

func unmarshalRecord(id, raw string) (*Record, error) {
	record := &Record{}
	if err := json.Unmarshal([]byte(raw), record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record [%s]: %w", id, err)
	}

	return record, nil
}

func metadataKey(id string) string {
	return metadataKeyPrefix + id
}

func chunkKey(id string, index int) string {
	return chunkKeyPrefix + id + "_" + strconv.Itoa(index)
}

// idLocks hands out one mutex per record id, dropping it once no caller holds or waits for it.
type idLocks struct {
	mu    sync.Mutex
	locks map[string]*idLock
}

type idLock struct {
	sync.Mutex
	refs int
}

func newIDLocks() *idLocks {
	return &idLocks{locks: map[string]*idLock{}}
}

func (l *idLocks) lock(id string) func() {
	l.mu.Lock()

	il, ok := l.locks[id]
	if !ok {
		il = &idLock{}
		l.locks[id] = il
	}

	il.refs++
	l.mu.Unlock()

	il.Lock()

	return func() {
		il.Unlock()

		l.mu.Lock()
		defer l.mu.Unlock()

		il.refs--
		if il.refs == 0 {
			delete(l.locks, id)
		}
	}
}
