package application

import (
	"hash/maphash"
	"sync"
)

// 必须是 2 的幂
const lockShardCount = 32

// userLocks 按用户分片的互斥锁，同一用户的操作串行，不同用户大概率并行
type userLocks struct {
	seed   maphash.Seed
	shards [lockShardCount]sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{seed: maphash.MakeSeed()}
}

func (l *userLocks) lock(userID uint64) func() {
	m := &l.shards[maphash.Comparable(l.seed, userID)&(lockShardCount-1)]
	m.Lock()
	return m.Unlock
}
