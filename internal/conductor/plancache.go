package conductor

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/spaolacci/murmur3"

	"github.com/Ankcorn/big-daddy/internal/sqlparser"
)

// PlanCache memoizes parsed statements keyed by a murmur3 fingerprint of
// the statement text. Cached ASTs are shared and read-only: every rewrite
// downstream copies before changing. DDL and index-status changes
// invalidate the affected table's entries.
type PlanCache struct {
	cache *lru.Cache
}

type cachedParse struct {
	stmt  sqlparser.Statement
	table string
}

// NewPlanCache creates a plan cache bounded to size entries.
func NewPlanCache(size int) (*PlanCache, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &PlanCache{cache: c}, nil
}

// fingerprint keys a statement text.
func fingerprint(sql string) string {
	h1, h2 := murmur3.Sum128([]byte(sql))
	return fmt.Sprintf("%016x%016x", h1, h2)
}

// Get returns the cached parse of sql, if present.
func (pc *PlanCache) Get(sql string) (sqlparser.Statement, bool) {
	v, ok := pc.cache.Get(fingerprint(sql))
	if !ok {
		return nil, false
	}
	return v.(*cachedParse).stmt, true
}

// Put stores a parse result under its statement text, tagged with the table
// it touches for targeted invalidation.
func (pc *PlanCache) Put(sql string, stmt sqlparser.Statement, table string) {
	pc.cache.Add(fingerprint(sql), &cachedParse{stmt: stmt, table: table})
}

// InvalidateTable evicts every entry for the given table.
func (pc *PlanCache) InvalidateTable(table string) {
	for _, key := range pc.cache.Keys() {
		if v, ok := pc.cache.Peek(key); ok {
			if v.(*cachedParse).table == table {
				pc.cache.Remove(key)
			}
		}
	}
}

// Purge empties the cache.
func (pc *PlanCache) Purge() {
	pc.cache.Purge()
}

// Len returns the number of cached entries.
func (pc *PlanCache) Len() int {
	return pc.cache.Len()
}
