package watcher

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type logKey struct {
	txHash common.Hash
	index  uint
}

// LogCache remembers the logs seen at the highest observed block so that a resubscription
// starting at that block does not deliver them twice. Entries for older blocks are dropped
// as soon as a newer block is seen.
type LogCache struct {
	blockNumber uint64
	data        map[uint64]map[logKey]struct{}
	mx          sync.Mutex
}

func NewLogCache() *LogCache {
	return &LogCache{
		data: make(map[uint64]map[logKey]struct{}, 2),
	}
}

// BlockNumber returns the highest block a log was seen in, 0 if none.
func (l *LogCache) BlockNumber() uint64 {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.blockNumber
}

// Exists records log and reports whether it had already been recorded.
func (l *LogCache) Exists(log types.Log) bool {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.blockNumber <= log.BlockNumber {
		l.blockNumber = log.BlockNumber
		l.cleanup()
	}
	return l.addExists(log.BlockNumber, logKey{txHash: log.TxHash, index: log.Index})
}

func (l *LogCache) addExists(blockNumber uint64, key logKey) bool {
	seen, ok := l.data[blockNumber]
	if !ok {
		seen = make(map[logKey]struct{}, 1)
		l.data[blockNumber] = seen
	}
	if _, exists := seen[key]; exists {
		return true
	}
	seen[key] = struct{}{}
	return false
}

func (l *LogCache) cleanup() {
	for u := range l.data {
		if u < l.blockNumber {
			delete(l.data, u)
		}
	}
}
