package listings

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound       = errors.New("listings: listing not found")
	ErrIDRequired     = errors.New("listings: id is required")
	ErrTitleRequired  = errors.New("listings: title is required")
	ErrSellerRequired = errors.New("listings: seller id is required")
	ErrNegativePrice  = errors.New("listings: price must be non-negative")
)

type ListingID string
type SellerID string

// Listing is a marketplace item. Conversations snapshot Title and the first
// image URL at creation time; the catalog is otherwise opaque to the chat core.
type Listing struct {
	ID           ListingID
	Seller       SellerID
	Title        string
	Description  string
	Category     string
	PriceCents   int64
	LocationName string
	Lat          float64
	Lon          float64
	ImageURLs    []string
	CreatedAt    time.Time
}

// PrimaryImageURL returns the image snapshotted into new conversations.
func (l *Listing) PrimaryImageURL() string {
	if len(l.ImageURLs) == 0 {
		return ""
	}
	return l.ImageURLs[0]
}

type Repository interface {
	ByID(ctx context.Context, id ListingID) (*Listing, error)
	BySeller(ctx context.Context, seller SellerID) ([]*Listing, error)
	// Feed returns listings newest first; a zero before starts from the top.
	Feed(ctx context.Context, limit int, before time.Time) ([]*Listing, error)
	Save(ctx context.Context, listing *Listing) error
	Delete(ctx context.Context, id ListingID) error
}

type CreateParams struct {
	ID           ListingID
	Seller       SellerID
	Title        string
	Description  string
	Category     string
	PriceCents   int64
	LocationName string
	Lat          float64
	Lon          float64
	ImageURLs    []string
	Now          time.Time
}

func NewListing(params CreateParams) (*Listing, error) {
	id := strings.TrimSpace(string(params.ID))
	if id == "" {
		return nil, ErrIDRequired
	}
	if strings.TrimSpace(string(params.Seller)) == "" {
		return nil, ErrSellerRequired
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	if params.PriceCents < 0 {
		return nil, ErrNegativePrice
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	return &Listing{
		ID:           ListingID(id),
		Seller:       params.Seller,
		Title:        title,
		Description:  strings.TrimSpace(params.Description),
		Category:     strings.TrimSpace(params.Category),
		PriceCents:   params.PriceCents,
		LocationName: strings.TrimSpace(params.LocationName),
		Lat:          params.Lat,
		Lon:          params.Lon,
		ImageURLs:    append([]string(nil), params.ImageURLs...),
		CreatedAt:    now.UTC(),
	}, nil
}
