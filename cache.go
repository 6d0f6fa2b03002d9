package esp

import (
	"sync"

	"github.com/cespare/xxhash"
	"github.com/d5/tengo/script"
)

type (
	scriptSetupFunc func(sc *script.Script)

	cacheEntry struct {
		base *script.Compiled
		refs *sync.Pool
	}

	// scriptCache keeps compiled page scripts keyed by a hash of their
	// transpiled source. Each entry pools clones of the compiled base
	// so concurrent requests never share a script instance.
	scriptCache struct {
		mtx   sync.RWMutex
		cache map[uint64]cacheEntry
		setup scriptSetupFunc
	}
)

func newScriptCache(setup scriptSetupFunc) *scriptCache {
	return &scriptCache{
		cache: map[uint64]cacheEntry{},
		setup: setup,
	}
}

// compile builds a fresh script for the given source without touching
// the cache.
func (sc *scriptCache) compile(source []byte) (*script.Compiled, error) {
	s := script.New(source)
	sc.setup(s)
	return s.Compile()
}

// get returns a ready to run clone of the compiled script for source,
// compiling it on the first request. Map access with integers is faster
// than with strings so the key is a xxhash sum of the source.
func (sc *scriptCache) get(source []byte) (uint64, *script.Compiled, error) {
	hashSum := xxhash.Sum64(source)

	sc.mtx.RLock()
	entry, ok := sc.cache[hashSum]
	sc.mtx.RUnlock()
	if ok {
		return hashSum, entry.refs.Get().(*script.Compiled), nil
	}

	compiled, err := sc.compile(source)
	if err != nil {
		return 0, nil, err
	}

	refs := &sync.Pool{
		New: func() interface{} {
			return compiled.Clone()
		},
	}

	sc.mtx.Lock()
	if entry, ok := sc.cache[hashSum]; ok {
		// Lost the race against another request, hand out a clone of
		// the entry that won.
		sc.mtx.Unlock()
		return hashSum, entry.refs.Get().(*script.Compiled), nil
	}
	sc.cache[hashSum] = cacheEntry{
		base: compiled,
		refs: refs,
	}
	sc.mtx.Unlock()

	return hashSum, refs.Get().(*script.Compiled), nil
}

// put returns a clone to the pool. Clones belonging to entries that
// were flushed in the meantime are dropped.
func (sc *scriptCache) put(hashSum uint64, compiled *script.Compiled) {
	sc.mtx.RLock()
	entry, ok := sc.cache[hashSum]
	sc.mtx.RUnlock()

	if ok {
		entry.refs.Put(compiled)
	}
}

// flush drops all cached scripts.
func (sc *scriptCache) flush() {
	sc.mtx.Lock()
	sc.cache = map[uint64]cacheEntry{}
	sc.mtx.Unlock()
}
