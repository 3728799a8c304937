// Package store provides the hash+list key-value abstraction the
// orchestrator is built on, plus the server-side scripting primitive that
// higher layers use to make compound mutations linearisable.
package store

import (
	"context"
	"time"
)

// Script is a named server-side script. Source is the Lua text sent to a
// real Redis/Valkey server via EVALSHA; Name is the key a fake, in-process
// Store implementation dispatches on to run the equivalent operation inside
// a single critical section. Both paths must honour the same atomicity
// contract: every invocation is one linearisation point.
type Script struct {
	Name   string
	Source string
}

// Store is the networked in-memory KV abstraction described in the
// component design: per-key hash maps, ordered lists with blocking and
// non-blocking pop, and server-side script execution.
//
// Key namespaces used by higher layers: task:{id} (hash), scenario:{id}
// (hash; its task_ids field holds the scenario's task ids as JSON),
// queue:{service} (list), index:processing (hash). No separate
// scenario:{id}:tasks key is written.
type Store interface {
	// HashSet writes or overwrites fields of a hash key.
	HashSet(ctx context.Context, key string, fields map[string]string) error
	// HashGetAll reads every field of a hash key. ok is false if the key
	// does not exist.
	HashGetAll(ctx context.Context, key string) (fields map[string]string, ok bool, err error)
	// HashDelete removes a single field from a hash key. It is not an
	// error for the field or key to already be absent.
	HashDelete(ctx context.Context, key, field string) error

	// RPush appends values to the tail of a list key, preserving argument
	// order.
	RPush(ctx context.Context, key string, values ...string) error
	// LPop removes and returns the head of a list key. ok is false if the
	// list is empty or absent.
	LPop(ctx context.Context, key string) (value string, ok bool, err error)
	// BLPop blocks (up to timeout) for the head of the first non-empty
	// list among keys. ok is false on timeout.
	BLPop(ctx context.Context, keys []string, timeout time.Duration) (key, value string, ok bool, err error)
	// LLen reports the length of a list key (0 if absent).
	LLen(ctx context.Context, key string) (int64, error)

	// RunScript executes a named compound operation atomically against
	// the given keys and string arguments, returning a script-defined
	// string result slice. Concrete scripts are defined in the internal
	// packages that use them (internal/scenario).
	RunScript(ctx context.Context, script Script, keys []string, args []string) ([]string, error)

	// Close releases any underlying network resources.
	Close() error
}
