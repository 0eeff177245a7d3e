package reclock

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync"
)

var (
	ErrAuthorization = errors.New("reclock: lock token does not match")
)

// Token authorizes the holder of a lock; a fresh Token is minted every time the lock
// is acquired. Zero is never a valid Token.
type Token uint64

// Table holds one Lock per record number. Locks are created the first time a record
// number is referenced and are never removed.
type Table struct {
	mutex sync.Mutex
	locks map[int]*Lock
}

type waiter struct {
	next  *waiter
	ch    chan struct{}
	token Token
}

// Lock is a non-reentrant mutual exclusion lock; acquiring a Lock already held by the
// same caller blocks forever.
type Lock struct {
	mutex sync.Mutex
	held  bool
	token Token

	// Waiters are granted the lock in the order they arrived.
	firstWaiter *waiter
	lastWaiter  *waiter
	numWaiters  int
}

func (tbl *Table) Lock(recNo int) *Lock {
	tbl.mutex.Lock()
	defer tbl.mutex.Unlock()

	if tbl.locks == nil {
		tbl.locks = map[int]*Lock{}
	}

	lk, ok := tbl.locks[recNo]
	if ok {
		return lk
	}
	lk = &Lock{}
	tbl.locks[recNo] = lk
	return lk
}

func mintToken(prev Token) Token {
	var b [8]byte
	for {
		_, err := rand.Read(b[:])
		if err != nil {
			panic("reclock: crypto/rand failed: " + err.Error())
		}
		tok := Token(binary.LittleEndian.Uint64(b[:]))
		if tok != 0 && tok != prev {
			return tok
		}
	}
}

// Acquire blocks until the lock is free and then returns the new Token.
func (lk *Lock) Acquire() Token {
	lk.mutex.Lock()
	if !lk.held {
		lk.held = true
		lk.token = mintToken(lk.token)
		tok := lk.token
		lk.mutex.Unlock()
		return tok
	}

	w := &waiter{
		ch: make(chan struct{}),
	}
	if lk.lastWaiter != nil {
		lk.lastWaiter.next = w
	} else {
		lk.firstWaiter = w
	}
	lk.lastWaiter = w
	lk.numWaiters += 1
	lk.mutex.Unlock()

	<-w.ch
	return w.token
}

// TryAcquire acquires the lock only if it is free.
func (lk *Lock) TryAcquire() (Token, bool) {
	lk.mutex.Lock()
	defer lk.mutex.Unlock()

	if lk.held {
		return 0, false
	}
	lk.held = true
	lk.token = mintToken(lk.token)
	return lk.token, true
}

// Release gives up the lock; if there are waiters, the lock is handed directly to the
// first of them.
func (lk *Lock) Release(tok Token) error {
	lk.mutex.Lock()
	defer lk.mutex.Unlock()

	if !lk.held || tok != lk.token {
		return ErrAuthorization
	}

	w := lk.firstWaiter
	if w == nil {
		lk.held = false
		return nil
	}

	lk.firstWaiter = w.next
	if lk.firstWaiter == nil {
		lk.lastWaiter = nil
	}
	lk.numWaiters -= 1

	lk.token = mintToken(lk.token)
	w.token = lk.token
	close(w.ch)
	return nil
}

// Check reports whether tok is the Token of the current holder; it never blocks
// waiting for the lock.
func (lk *Lock) Check(tok Token) bool {
	lk.mutex.Lock()
	defer lk.mutex.Unlock()

	return lk.held && tok == lk.token
}

func (lk *Lock) Waiters() int {
	lk.mutex.Lock()
	defer lk.mutex.Unlock()

	return lk.numWaiters
}
