package queue

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/webitel/device-delivery-service/internal/domain/model"
)

// ConfigCache maps (account, config set, reference, device) to a config
// tree. Entries are written when a config push is issued and read back by
// the device once it picks the reference up from its queue. Reads never
// mutate. The size bound is the whole eviction policy at this layer:
// lookups for evicted or never-cached references return ErrNotFound, never
// a default tree.
type ConfigCache struct {
	trees *lru.Cache[string, *model.ConfigTree]
}

func NewConfigCache(size int) (*ConfigCache, error) {
	trees, err := lru.New[string, *model.ConfigTree](size)
	if err != nil {
		return nil, fmt.Errorf("config cache: %w", err)
	}
	return &ConfigCache{trees: trees}, nil
}

func cacheKey(acct model.AccountID, configSet, reference string, dev model.DeviceID) string {
	return fmt.Sprintf("%s|%s|%s|%s", acct, configSet, reference, dev)
}

// Put stores the tree under the composite key, displacing the least
// recently used entry when the cache is full.
func (c *ConfigCache) Put(acct model.AccountID, configSet, reference string, dev model.DeviceID, tree *model.ConfigTree) {
	c.trees.Add(cacheKey(acct, configSet, reference, dev), tree)
}

// Get returns the cached tree or ErrNotFound.
func (c *ConfigCache) Get(acct model.AccountID, configSet, reference string, dev model.DeviceID) (*model.ConfigTree, error) {
	tree, ok := c.trees.Get(cacheKey(acct, configSet, reference, dev))
	if !ok {
		return nil, model.ErrNotFound
	}
	return tree, nil
}
