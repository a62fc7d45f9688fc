package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/agrimarket/bargaining-hub/internal/domain/negotiation"
)

// Directory serves participant names and listing metadata from memory.
// Unknown ids are simply absent from the result maps.
type Directory struct {
	mu       sync.RWMutex
	names    map[uuid.UUID]string
	listings map[uuid.UUID]*negotiation.Listing
}

func NewDirectory() *Directory {
	return &Directory{
		names:    make(map[uuid.UUID]string),
		listings: make(map[uuid.UUID]*negotiation.Listing),
	}
}

func (d *Directory) PutProfile(id uuid.UUID, displayName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names[id] = displayName
}

func (d *Directory) PutListing(l negotiation.Listing) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listings[l.ID] = &l
}

func (d *Directory) DisplayNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[uuid.UUID]string, len(ids))
	for _, id := range ids {
		if name, ok := d.names[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func (d *Directory) Listings(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*negotiation.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[uuid.UUID]*negotiation.Listing, len(ids))
	for _, id := range ids {
		if l, ok := d.listings[id]; ok {
			c := *l
			out[id] = &c
		}
	}
	return out, nil
}
