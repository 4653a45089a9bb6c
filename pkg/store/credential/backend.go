/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package credential

import (
	"errors"
	"fmt"

	spi "github.com/hyperledger/aries-framework-go/spi/storage"
)

const (
	// DefaultMaxValueSize is the per-value cap of NewSPIBackend, the limit of the secure storage the wallet
	// record layout was designed for.
	DefaultMaxValueSize = 2048

	keyTagName = "dcxkey"
)

// ErrValueTooLarge is returned by Backend.Set when a value exceeds the backend's cap.
var ErrValueTooLarge = errors.New("value exceeds backend size cap")

// Backend is the key-value storage the record store is layered on. Values are size capped: Set fails for values
// longer than MaxValueSize. Get reports absence through its bool result, not through an error.
type Backend interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
	Keys() ([]string, error)
	Clear() error
	MaxValueSize() int
}

// SPIBackend adapts an aries storage store to Backend. Every entry is tagged so that Keys is a single tag query.
type SPIBackend struct {
	store        spi.Store
	maxValueSize int
}

// BackendOption configures an SPIBackend.
type BackendOption func(b *SPIBackend)

// WithMaxValueSize overrides DefaultMaxValueSize.
func WithMaxValueSize(n int) BackendOption {
	return func(b *SPIBackend) {
		b.maxValueSize = n
	}
}

// NewSPIBackend opens store name of provider as a Backend.
func NewSPIBackend(provider spi.Provider, name string, opts ...BackendOption) (*SPIBackend, error) {
	store, err := provider.OpenStore(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open store [%s]: %w", name, err)
	}

	err = provider.SetStoreConfig(name, spi.StoreConfiguration{TagNames: []string{keyTagName}})
	if err != nil {
		return nil, fmt.Errorf("failed to set store configuration for [%s]: %w", name, err)
	}

	b := &SPIBackend{store: store, maxValueSize: DefaultMaxValueSize}

	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Get fetches the value stored under key.
func (b *SPIBackend) Get(key string) (string, bool, error) {
	v, err := b.store.Get(key)
	if errors.Is(err, spi.ErrDataNotFound) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("failed to get [%s]: %w", key, err)
	}

	return string(v), true, nil
}

// Set stores value under key.
func (b *SPIBackend) Set(key, value string) error {
	if b.maxValueSize > 0 && len(value) > b.maxValueSize {
		return fmt.Errorf("set [%s] (%d bytes, cap %d): %w", key, len(value), b.maxValueSize, ErrValueTooLarge)
	}

	if err := b.store.Put(key, []byte(value), spi.Tag{Name: keyTagName}); err != nil {
		return fmt.Errorf("failed to put [%s]: %w", key, err)
	}

	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (b *SPIBackend) Remove(key string) error {
	err := b.store.Delete(key)
	if err != nil && !errors.Is(err, spi.ErrDataNotFound) {
		return fmt.Errorf("failed to delete [%s]: %w", key, err)
	}

	return nil
}

// Keys lists every key of the backend.
func (b *SPIBackend) Keys() ([]string, error) {
	itr, err := b.store.Query(keyTagName)
	if err != nil {
		return nil, fmt.Errorf("failed to query keys: %w", err)
	}

	defer spi.Close(itr, logger)

	var keys []string

	for {
		ok, err := itr.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate keys: %w", err)
		}

		if !ok {
			return keys, nil
		}

		key, err := itr.Key()
		if err != nil {
			return nil, fmt.Errorf("failed to read key: %w", err)
		}

		keys = append(keys, key)
	}
}

// Clear removes every key, stopping at the first failure.
func (b *SPIBackend) Clear() error {
	keys, err := b.Keys()
	if err != nil {
		return err
	}

	for _, k := range keys {
		if err := b.Remove(k); err != nil {
			return fmt.Errorf("failed to clear store: %w", err)
		}
	}

	return nil
}

// MaxValueSize returns the per-value cap, 0 meaning unbounded.
func (b *SPIBackend) MaxValueSize() int {
	return b.maxValueSize
}
