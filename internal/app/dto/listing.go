package dto

import (
	"time"

	domainlistings "swapyard/internal/domain/listings"
)

// Listing is the public catalog shape of a marketplace item.
type Listing struct {
	ID           string    `json:"id"`
	SellerID     string    `json:"seller_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Category     string    `json:"category,omitempty"`
	PriceCents   int64     `json:"price_cents"`
	LocationName string    `json:"location_name,omitempty"`
	Lat          float64   `json:"lat,omitempty"`
	Lon          float64   `json:"lon,omitempty"`
	ImageURLs    []string  `json:"image_urls"`
	CreatedAt    time.Time `json:"created_at"`
}

type ListingList struct {
	Items []Listing `json:"items"`
}

func MapListing(listing *domainlistings.Listing) Listing {
	if listing == nil {
		return Listing{}
	}
	return Listing{
		ID:           string(listing.ID),
		SellerID:     string(listing.Seller),
		Title:        listing.Title,
		Description:  listing.Description,
		Category:     listing.Category,
		PriceCents:   listing.PriceCents,
		LocationName: listing.LocationName,
		Lat:          listing.Lat,
		Lon:          listing.Lon,
		ImageURLs:    append([]string(nil), listing.ImageURLs...),
		CreatedAt:    listing.CreatedAt,
	}
}

func MapListings(items []*domainlistings.Listing) ListingList {
	out := ListingList{Items: make([]Listing, 0, len(items))}
	for _, l := range items {
		out.Items = append(out.Items, MapListing(l))
	}
	return out
}
