// Package catalog serves the clinic's service list from an in-process cache.
package catalog

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pdsa-vet/vetclinic/services/clinic-service/internal/storage"
)

type Store interface {
	Create(ctx context.Context, s storage.Service) (string, error)
	List(ctx context.Context) ([]storage.Service, error)
}

const listKey = "all"

// Catalog caches the full service list for ttl and drops it on every write
// made through it. Writes from other replicas show up once the entry expires.
type Catalog struct {
	store Store
	cache *expirable.LRU[string, []storage.Service]
}

func New(store Store, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Catalog{
		store: store,
		cache: expirable.NewLRU[string, []storage.Service](1, nil, ttl),
	}
}

func (c *Catalog) List(ctx context.Context) ([]storage.Service, error) {
	if services, ok := c.cache.Get(listKey); ok {
		return services, nil
	}
	services, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Add(listKey, services)
	return services, nil
}

func (c *Catalog) Create(ctx context.Context, s storage.Service) (string, error) {
	id, err := c.store.Create(ctx, s)
	if err != nil {
		return "", err
	}
	c.cache.Purge()
	return id, nil
}
