// Package receiver implements the server-side batch-apply contract
//: a plug-in invoked by the updater with a cache
// handle and a decoded batch, plus the narrow security contract that
// gates each entry before it reaches the cache.
package receiver

import (
	"context"
	"errors"
	"fmt"

	"github.com/distkv/streamer/internal/kvmodel"
)

// ErrUnauthorized is returned by an Authorizer that denies an operation.
var ErrUnauthorized = errors.New("receiver: operation not authorized")

// Operation identifies the kind of access an Authorizer is asked about.
type Operation int

const (
	OpPut Operation = iota
	OpRemove
)

func (o Operation) String() string {
	if o == OpRemove {
		return "REMOVE"
	}
	return "PUT"
}

// Authorizer is the security collaborator consumed by built-in
// receivers: it is asked once per entry, PUT for a non-null value and
// REMOVE for a null one.
type Authorizer interface {
	Authorize(ctx context.Context, cacheName string, op Operation) error
}

// AllowAll is an Authorizer that never denies, for tests and demos
// where no security layer is configured.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, string, Operation) error { return nil }

// CacheHandle is the narrow key-value contract a receiver needs from
// the underlying store: get (to support isolated's skip-if-present
// rule), put, and delete.
type CacheHandle interface {
	Get(key []byte) ([]byte, bool)
	Put(key, value []byte)
	Delete(key []byte)
}

// Result reports how many entries a receiver applied vs. skipped. It
// carries no error: a partial failure is reported through the returned
// error instead, consistent with the all-or-nothing batch semantics
// updater.Server expects from Receive.
type Result struct {
	Applied int
	Skipped int
}

// Receiver applies a decoded batch against a cache handle.
// Two built-in variants are provided: Isolated and Individual, selected
// by allow_overwrite the same way the streamer selects routing.
type Receiver interface {
	Receive(ctx context.Context, cache CacheHandle, cacheName string, entries []kvmodel.Entry) (Result, error)
}

func authorizeEntry(ctx context.Context, auth Authorizer, cacheName string, e kvmodel.Entry) error {
	op := OpPut
	if e.IsDelete() {
		op = OpRemove
	}
	if err := auth.Authorize(ctx, cacheName, op); err != nil {
		return fmt.Errorf("authorizing %s on %q: %w", op, cacheName, err)
	}
	return nil
}

// Isolated writes each entry's initial value only: a key already
// present in the cache is left untouched. Used when allow_overwrite is
// false, so that duplicate delivery to primary and backups converges on
// whichever copy arrived first instead of racing later writers.
type Isolated struct {
	Authorizer Authorizer
}

// NewIsolated constructs an Isolated receiver. A nil authorizer defaults
// to AllowAll.
func NewIsolated(auth Authorizer) *Isolated {
	if auth == nil {
		auth = AllowAll{}
	}
	return &Isolated{Authorizer: auth}
}

func (r *Isolated) Receive(ctx context.Context, cache CacheHandle, cacheName string, entries []kvmodel.Entry) (Result, error) {
	var res Result
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("isolated receive interrupted: %w", err)
		}
		if err := authorizeEntry(ctx, r.Authorizer, cacheName, e); err != nil {
			return res, err
		}
		if e.IsDelete() {
			cache.Delete(e.Key)
			res.Applied++
			continue
		}
		if _, exists := cache.Get(e.Key); exists {
			res.Skipped++
			continue
		}
		cache.Put(e.Key, e.Value)
		res.Applied++
	}
	return res, nil
}

// Individual performs full put/delete semantics: every entry overwrites
// whatever is already in the cache. Used when allow_overwrite is true.
type Individual struct {
	Authorizer Authorizer
}

// NewIndividual constructs an Individual receiver. A nil authorizer
// defaults to AllowAll.
func NewIndividual(auth Authorizer) *Individual {
	if auth == nil {
		auth = AllowAll{}
	}
	return &Individual{Authorizer: auth}
}

func (r *Individual) Receive(ctx context.Context, cache CacheHandle, cacheName string, entries []kvmodel.Entry) (Result, error) {
	var res Result
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("individual receive interrupted: %w", err)
		}
		if err := authorizeEntry(ctx, r.Authorizer, cacheName, e); err != nil {
			return res, err
		}
		if e.IsDelete() {
			cache.Delete(e.Key)
		} else {
			cache.Put(e.Key, e.Value)
		}
		res.Applied++
	}
	return res, nil
}

// ForAllowOverwrite selects Individual when allowOverwrite is true and
// Isolated otherwise, mirroring the streamer's own routing choice.
func ForAllowOverwrite(allowOverwrite bool, auth Authorizer) Receiver {
	if allowOverwrite {
		return NewIndividual(auth)
	}
	return NewIsolated(auth)
}
