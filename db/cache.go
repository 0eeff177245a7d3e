package db

import (
	"sync"
	"sync/atomic"

	"github.com/google/btree"

	"github.com/leftmike/roomdb/reclock"
)

type record struct {
	fields  []string
	deleted bool
}

// recordState is never removed from the cache; its record is replaced as a whole on
// every mutation so that readers always see a consistent snapshot.
type recordState struct {
	recNo int
	lock  *reclock.Lock
	rec   atomic.Pointer[record]
}

func (rs *recordState) Less(item btree.Item) bool {
	return rs.recNo < item.(*recordState).recNo
}

func (rs *recordState) load() *record {
	return rs.rec.Load()
}

func (rs *recordState) store(rec *record) {
	rs.rec.Store(rec)
}

type recordCache struct {
	mutex   sync.RWMutex
	states  *btree.BTree
	deleted *btree.BTree
}

func newRecordCache() *recordCache {
	return &recordCache{
		states:  btree.New(16),
		deleted: btree.New(16),
	}
}

func (rc *recordCache) get(recNo int) *recordState {
	rc.mutex.RLock()
	defer rc.mutex.RUnlock()

	item := rc.states.Get(&recordState{recNo: recNo})
	if item == nil {
		return nil
	}
	return item.(*recordState)
}

func (rc *recordCache) add(rs *recordState) {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	if rc.states.ReplaceOrInsert(rs) != nil {
		panic("db: record state added twice")
	}
	if rs.load().deleted {
		rc.deleted.ReplaceOrInsert(btree.Int(rs.recNo))
	}
}

func (rc *recordCache) markDeleted(recNo int) {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	rc.deleted.ReplaceOrInsert(btree.Int(recNo))
}

func (rc *recordCache) clearDeleted(recNo int) {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	rc.deleted.Delete(btree.Int(recNo))
}

// deletedRecNos returns the tombstoned record numbers in ascending order.
func (rc *recordCache) deletedRecNos() []int {
	rc.mutex.RLock()
	defer rc.mutex.RUnlock()

	recNos := make([]int, 0, rc.deleted.Len())
	rc.deleted.Ascend(
		func(item btree.Item) bool {
			recNos = append(recNos, int(item.(btree.Int)))
			return true
		})
	return recNos
}

// snapshot returns every record state, including tombstoned ones, in record number
// order.
func (rc *recordCache) snapshot() []*recordState {
	rc.mutex.RLock()
	defer rc.mutex.RUnlock()

	states := make([]*recordState, 0, rc.states.Len())
	rc.states.Ascend(
		func(item btree.Item) bool {
			states = append(states, item.(*recordState))
			return true
		})
	return states
}
