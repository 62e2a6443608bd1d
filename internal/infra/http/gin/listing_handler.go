package ginserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	gin "github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"swapyard/internal/app/dto"
	domainlistings "swapyard/internal/domain/listings"
	"swapyard/internal/infra/storage/s3"
)

type ListingHTTP interface {
	Feed(c *gin.Context)
	Get(c *gin.Context)
	Create(c *gin.Context)
	Delete(c *gin.Context)
	MyListings(c *gin.Context)
	UploadPhoto(c *gin.Context)
}

type ListingHandler struct {
	Listings domainlistings.Repository
	Media    s3.MediaStore
	Logger   *slog.Logger
}

type createListingRequest struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Category     string   `json:"category"`
	PriceCents   int64    `json:"price_cents"`
	LocationName string   `json:"location_name"`
	Lat          float64  `json:"lat"`
	Lon          float64  `json:"lon"`
	ImageURLs    []string `json:"image_urls"`
}

func (h ListingHandler) Feed(c *gin.Context) {
	limit := parsePositiveInt(c.Query("limit"), 20)
	before, err := parseTimeParam(c.Query("before"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before cursor"})
		return
	}
	items, err := h.Listings.Feed(c.Request.Context(), limit, before)
	if err != nil {
		h.respondListingError(c, err, "load feed")
		return
	}
	c.JSON(http.StatusOK, dto.MapListings(items))
}

func (h ListingHandler) Get(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "listing id is required"})
		return
	}
	listing, err := h.Listings.ByID(c.Request.Context(), domainlistings.ListingID(id))
	if err != nil {
		h.respondListingError(c, err, "load listing", "listing_id", id)
		return
	}
	c.JSON(http.StatusOK, dto.MapListing(listing))
}

func (h ListingHandler) Create(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	listing, err := domainlistings.NewListing(domainlistings.CreateParams{
		ID:           domainlistings.ListingID(uuid.NewString()),
		Seller:       domainlistings.SellerID(p.ID),
		Title:        req.Title,
		Description:  req.Description,
		Category:     req.Category,
		PriceCents:   req.PriceCents,
		LocationName: req.LocationName,
		Lat:          req.Lat,
		Lon:          req.Lon,
		ImageURLs:    req.ImageURLs,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Listings.Save(c.Request.Context(), listing); err != nil {
		h.respondListingError(c, err, "save listing", "listing_id", listing.ID)
		return
	}
	c.JSON(http.StatusCreated, dto.MapListing(listing))
}

func (h ListingHandler) Delete(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	listing, err := h.Listings.ByID(c.Request.Context(), domainlistings.ListingID(id))
	if err != nil {
		h.respondListingError(c, err, "load listing", "listing_id", id)
		return
	}
	if string(listing.Seller) != p.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the seller can remove a listing"})
		return
	}
	if err := h.Listings.Delete(c.Request.Context(), listing.ID); err != nil {
		h.respondListingError(c, err, "delete listing", "listing_id", id)
		return
	}
	if h.Media != nil {
		for _, url := range listing.ImageURLs {
			if err := h.Media.Remove(c.Request.Context(), url); err != nil && h.Logger != nil {
				h.Logger.Warn("listing photo removal failed", "listing_id", id, "url", url, "error", err)
			}
		}
	}
	c.Status(http.StatusNoContent)
}

func (h ListingHandler) MyListings(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	items, err := h.Listings.BySeller(c.Request.Context(), domainlistings.SellerID(p.ID))
	if err != nil {
		h.respondListingError(c, err, "load seller listings", "seller_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, dto.MapListings(items))
}

// UploadPhoto stores one photo for the caller's listing and appends its
// public URL to the listing record.
func (h ListingHandler) UploadPhoto(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	if h.Media == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "media storage unavailable"})
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	listing, err := h.Listings.ByID(c.Request.Context(), domainlistings.ListingID(id))
	if err != nil {
		h.respondListingError(c, err, "load listing", "listing_id", id)
		return
	}
	if string(listing.Seller) != p.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the seller can add photos"})
		return
	}
	file, header, err := c.Request.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo file is required"})
		return
	}
	defer file.Close()

	key := fmt.Sprintf("listings/%s/%s%s", listing.ID, uuid.NewString(), path.Ext(header.Filename))
	url, err := h.Media.Upload(c.Request.Context(), key, file, header.Header.Get("Content-Type"))
	if err != nil {
		h.respondListingError(c, err, "upload photo", "listing_id", id)
		return
	}
	listing.ImageURLs = append(listing.ImageURLs, url)
	if err := h.Listings.Save(c.Request.Context(), listing); err != nil {
		h.respondListingError(c, err, "save listing", "listing_id", id)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": url})
}

func (h ListingHandler) respondListingError(c *gin.Context, err error, action string, attrs ...any) {
	if errors.Is(err, domainlistings.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
		return
	}
	if h.Logger != nil {
		h.Logger.Error("listing operation failed",
			append([]any{"action", action, "error", err, "request_id", c.GetString("request_id")}, attrs...)...)
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

var _ ListingHTTP = (*ListingHandler)(nil)
