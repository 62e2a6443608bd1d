package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"swapyard/internal/domain/listings"
)

type ListingRepository struct {
	coll *mongo.Collection
}

func NewListingRepository(db *mongo.Database) *ListingRepository {
	coll := db.Collection("listings")
	_, _ = coll.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{Keys: bson.D{{Key: "seller_id", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	return &ListingRepository{coll: coll}
}

type listingDocument struct {
	ID           string   `bson:"_id"`
	SellerID     string   `bson:"seller_id"`
	Title        string   `bson:"title"`
	Description  string   `bson:"description"`
	Category     string   `bson:"category"`
	PriceCents   int64    `bson:"price_cents"`
	LocationName string   `bson:"location_name"`
	Lat          float64  `bson:"lat"`
	Lon          float64  `bson:"lon"`
	ImageURLs    []string `bson:"image_urls"`
	CreatedAt    int64    `bson:"created_at"`
}

func (r *ListingRepository) ByID(ctx context.Context, id listings.ListingID) (*listings.Listing, error) {
	var doc listingDocument
	if err := r.coll.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, listings.ErrNotFound
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *ListingRepository) BySeller(ctx context.Context, seller listings.SellerID) ([]*listings.Listing, error) {
	cursor, err := r.coll.Find(ctx,
		bson.M{"seller_id": string(seller)},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	return decodeListings(ctx, cursor)
}

func (r *ListingRepository) Feed(ctx context.Context, limit int, before time.Time) ([]*listings.Listing, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	filter := bson.M{}
	if !before.IsZero() {
		filter["created_at"] = bson.M{"$lt": before.UnixMilli()}
	}
	cursor, err := r.coll.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	return decodeListings(ctx, cursor)
}

func (r *ListingRepository) Save(ctx context.Context, listing *listings.Listing) error {
	doc := listingDocument{
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
		CreatedAt:    listing.CreatedAt.UnixMilli(),
	}
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (r *ListingRepository) Delete(ctx context.Context, id listings.ListingID) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": string(id)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return listings.ErrNotFound
	}
	return nil
}

func decodeListings(ctx context.Context, cursor *mongo.Cursor) ([]*listings.Listing, error) {
	defer cursor.Close(ctx)
	out := make([]*listings.Listing, 0)
	for cursor.Next(ctx) {
		var doc listingDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toDomain())
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (d listingDocument) toDomain() *listings.Listing {
	return &listings.Listing{
		ID:           listings.ListingID(d.ID),
		Seller:       listings.SellerID(d.SellerID),
		Title:        d.Title,
		Description:  d.Description,
		Category:     d.Category,
		PriceCents:   d.PriceCents,
		LocationName: d.LocationName,
		Lat:          d.Lat,
		Lon:          d.Lon,
		ImageURLs:    append([]string(nil), d.ImageURLs...),
		CreatedAt:    millisToTime(d.CreatedAt),
	}
}

var _ listings.Repository = (*ListingRepository)(nil)
