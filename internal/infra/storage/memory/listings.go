package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domainlistings "swapyard/internal/domain/listings"
)

// ListingRepository keeps the catalog in memory for tests and local runs.
type ListingRepository struct {
	mu    sync.RWMutex
	items map[domainlistings.ListingID]*domainlistings.Listing
}

func NewListingRepository() *ListingRepository {
	return &ListingRepository{
		items: make(map[domainlistings.ListingID]*domainlistings.Listing),
	}
}

func (r *ListingRepository) ByID(ctx context.Context, id domainlistings.ListingID) (*domainlistings.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	listing, ok := r.items[id]
	if !ok {
		return nil, domainlistings.ErrNotFound
	}
	return cloneListing(listing), nil
}

func (r *ListingRepository) BySeller(ctx context.Context, seller domainlistings.SellerID) ([]*domainlistings.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domainlistings.Listing, 0)
	for _, listing := range r.items {
		if listing.Seller == seller {
			out = append(out, cloneListing(listing))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *ListingRepository) Feed(ctx context.Context, limit int, before time.Time) ([]*domainlistings.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	all := make([]*domainlistings.Listing, 0, len(r.items))
	for _, listing := range r.items {
		if !before.IsZero() && !listing.CreatedAt.Before(before) {
			continue
		}
		all = append(all, cloneListing(listing))
	}
	sortNewestFirst(all)
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *ListingRepository) Save(ctx context.Context, listing *domainlistings.Listing) error {
	if listing == nil {
		return domainlistings.ErrIDRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[listing.ID] = cloneListing(listing)
	return nil
}

func (r *ListingRepository) Delete(ctx context.Context, id domainlistings.ListingID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return domainlistings.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func sortNewestFirst(items []*domainlistings.Listing) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

func cloneListing(l *domainlistings.Listing) *domainlistings.Listing {
	if l == nil {
		return nil
	}
	out := *l
	out.ImageURLs = append([]string(nil), l.ImageURLs...)
	return &out
}

var _ domainlistings.Repository = (*ListingRepository)(nil)
