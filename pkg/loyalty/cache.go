package loyalty

import (
	"sync"
	"time"
)

// Cache holds tier lists and customer states to reduce storage load.
type Cache interface {
	// GetTiers returns the cached tier list and true if found
	GetTiers() ([]TierDefinition, bool)

	// SetTiers stores the tier list with TTL
	SetTiers(tiers []TierDefinition, ttl time.Duration)

	// InvalidateTiers removes the tier list from the cache
	InvalidateTiers()

	// GetCustomer returns a cached customer state and true if found
	GetCustomer(customerID string) (*CustomerState, bool)

	// SetCustomer stores a customer state with TTL
	SetCustomer(state *CustomerState, ttl time.Duration)

	// InvalidateCustomer removes a customer state from the cache
	InvalidateCustomer(customerID string)

	// Clear removes all entries from the cache
	Clear()

	// Stats returns cache statistics
	Stats() CacheStats
}

// CacheStats holds cache performance statistics
type CacheStats struct {
	TierHits       int64
	TierMisses     int64
	CustomerHits   int64
	CustomerMisses int64
	Evictions      int64
	Size           int
}

type cacheEntry struct {
	value      interface{}
	expiration time.Time
	accessTime time.Time
	sequence   int64 // tiebreak for equal access times
}

// NoopCache is used when caching is disabled
type NoopCache struct{}

// NewNoopCache creates a new no-op cache
func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

func (c *NoopCache) GetTiers() ([]TierDefinition, bool)            { return nil, false }
func (c *NoopCache) SetTiers(_ []TierDefinition, _ time.Duration)  {}
func (c *NoopCache) InvalidateTiers()                              {}
func (c *NoopCache) GetCustomer(_ string) (*CustomerState, bool)   { return nil, false }
func (c *NoopCache) SetCustomer(_ *CustomerState, _ time.Duration) {}
func (c *NoopCache) InvalidateCustomer(_ string)                   {}
func (c *NoopCache) Clear()                                        {}
func (c *NoopCache) Stats() CacheStats                             { return CacheStats{} }

// LRUCache implements Cache in memory with TTL expiry and least recently
// used eviction of customer states.
type LRUCache struct {
	mu sync.Mutex

	tiers        *cacheEntry
	customers    map[string]*cacheEntry
	maxCustomers int
	sequence     int64
	now          func() time.Time

	tierHits       int64
	tierMisses     int64
	customerHits   int64
	customerMisses int64
	evictions      int64
}

// NewLRUCache creates a cache holding at most maxCustomers customer states
func NewLRUCache(maxCustomers int) *LRUCache {
	if maxCustomers <= 0 {
		maxCustomers = 10000
	}
	return &LRUCache{
		customers:    make(map[string]*cacheEntry, maxCustomers),
		maxCustomers: maxCustomers,
		now:          time.Now,
	}
}

func (c *LRUCache) newEntry(value interface{}, ttl time.Duration) *cacheEntry {
	now := c.now()
	seq := c.sequence
	c.sequence++
	return &cacheEntry{value: value, expiration: now.Add(ttl), accessTime: now, sequence: seq}
}

func (c *LRUCache) expired(e *cacheEntry) bool {
	return c.now().After(e.expiration)
}

func (c *LRUCache) GetTiers() ([]TierDefinition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tiers == nil || c.expired(c.tiers) {
		c.tierMisses++
		return nil, false
	}
	c.tierHits++
	tiers, _ := c.tiers.value.([]TierDefinition)
	return CloneTiers(tiers), true
}

func (c *LRUCache) SetTiers(tiers []TierDefinition, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tiers = c.newEntry(CloneTiers(tiers), ttl)
}

func (c *LRUCache) InvalidateTiers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tiers = nil
}

func (c *LRUCache) GetCustomer(customerID string) (*CustomerState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.customers[customerID]
	if !ok || c.expired(entry) {
		c.customerMisses++
		return nil, false
	}
	entry.accessTime = c.now()
	c.customerHits++

	state, ok := entry.value.(*CustomerState)
	if !ok {
		return nil, false
	}
	return state.Clone(), true
}

func (c *LRUCache) SetCustomer(state *CustomerState, ttl time.Duration) {
	if state == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.customers[state.CustomerID]; !exists && len(c.customers) >= c.maxCustomers {
		c.evictOldest()
	}
	c.customers[state.CustomerID] = c.newEntry(state.Clone(), ttl)
}

// evictOldest drops the least recently used customer. Caller holds mu.
func (c *LRUCache) evictOldest() {
	var oldestKey string
	var oldest *cacheEntry
	for key, entry := range c.customers {
		if oldest == nil || entry.accessTime.Before(oldest.accessTime) ||
			(entry.accessTime.Equal(oldest.accessTime) && entry.sequence < oldest.sequence) {
			oldestKey = key
			oldest = entry
		}
	}
	if oldest != nil {
		delete(c.customers, oldestKey)
		c.evictions++
	}
}

func (c *LRUCache) InvalidateCustomer(customerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.customers, customerID)
}

func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tiers = nil
	c.customers = make(map[string]*cacheEntry, c.maxCustomers)
}

func (c *LRUCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := len(c.customers)
	if c.tiers != nil {
		size++
	}
	return CacheStats{
		TierHits:       c.tierHits,
		TierMisses:     c.tierMisses,
		CustomerHits:   c.customerHits,
		CustomerMisses: c.customerMisses,
		Evictions:      c.evictions,
		Size:           size,
	}
}
