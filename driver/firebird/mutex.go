// Package firebird implements the cursor-model driver described in spec.md
// for Firebird, over github.com/nakagami/firebirdsql registered under
// database/sql. Grounded directly on the transaction-state-machine and
// DDL-invalidation text of spec.md §4.2/§9 — the teacher (Kansuler/octobe)
// has no cursor-model driver to imitate, so the *shape* here follows the
// spec's prose and original_source/libs/cpp_dbc's Firebird driver, rendered
// in the teacher's idiom (functional options, zap logging, testify tests).
package firebird

import "sync"

// goroutineToken identifies "the same logical call chain" for re-entrancy
// purposes. Go deliberately exposes no stable goroutine-id API, so this
// module never tries to detect re-entrancy automatically: every entry point
// that might recurse into the shared mutex is handed an explicit token,
// minted once by the outermost Lock call and threaded through nested calls
// via LockWith/Unlock.
type goroutineToken *int

// recursiveMutex is the re-entrant mutex required by spec.md §5: ending a
// transaction (endTransactionLocked) closes every registered cursor ResultSet,
// which must be able to re-enter a lock already held by whichever Connection
// method triggered the teardown (commit/rollback/close/DDL). It is shared,
// by pointer, between a Connection and every PreparedStatement and
// ResultSet it produces (spec.md §3/§5).
type recursiveMutex struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner goroutineToken
	count int
}

func newRecursiveMutex() *recursiveMutex {
	m := &recursiveMutex{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Lock acquires the mutex for a brand new call chain, returning a token that
// nested calls must pass to LockWith/Unlock to re-enter without blocking.
func (m *recursiveMutex) Lock() goroutineToken {
	tok := new(int)
	m.LockWith(tok)
	return tok
}

// LockWith acquires the mutex, re-entering immediately if tok is already the
// current holder, otherwise blocking until the mutex is free.
func (m *recursiveMutex) LockWith(tok goroutineToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.count > 0 && m.owner != tok {
		m.cond.Wait()
	}
	m.owner = tok
	m.count++
}

// Unlock releases one level of the mutex held by tok. The underlying lock
// is only actually released once count reaches zero. A mismatched or
// already-zero token is a no-op, matching spec.md §7's "cleanup paths never
// propagate" spirit for what would otherwise be a programmer error.
func (m *recursiveMutex) Unlock(tok goroutineToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner != tok || m.count == 0 {
		return
	}
	m.count--
	if m.count == 0 {
		m.owner = nil
		m.cond.Signal()
	}
}
