package model

import "sync"

// strCache is the process-lifetime, content-addressed string interning
// cache spec.md §4.1 and §9 require: config parsing shares storage for
// equal strings, and Part.Dup must share these interned strings rather
// than copy them.
type strCache struct {
	mu   sync.Mutex
	seen map[string]string
}

var cache = &strCache{seen: make(map[string]string)}

// Intern returns the single shared copy of s, adding it to the cache on
// first sight.
func Intern(s string) string {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	if v, ok := cache.seen[s]; ok {
		return v
	}
	cache.seen[s] = s
	return s
}
