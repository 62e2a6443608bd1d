package chat

import (
	"context"
	"errors"
	"log/slog"

	domainauth "swapyard/internal/domain/auth"
	domainchat "swapyard/internal/domain/chat"
	domainlistings "swapyard/internal/domain/listings"
	domainuser "swapyard/internal/domain/user"
)

// MediaRemover deletes a stored object addressed by its public URL.
type MediaRemover interface {
	Remove(ctx context.Context, url string) error
}

// Cascader runs the account-deletion cleanup: detach the actor from every
// conversation (purging emptied ones with their messages), delete the actor's
// listings and their stored media, then the user record and sessions. Each
// step is best-effort and logged; a failing step never blocks the others.
type Cascader struct {
	Store    domainchat.Store
	Listings domainlistings.Repository
	Users    domainuser.Repository
	Sessions domainauth.SessionStore
	Media    MediaRemover
	Logger   *slog.Logger
}

// CleanupAccount is triggered by an external account-lifecycle event, never by
// the chat core itself. The returned error aggregates step failures so the
// caller can log or dead-letter the event; partial progress is kept.
func (c *Cascader) CleanupAccount(ctx context.Context, actorID string) error {
	log := c.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("account cleanup started", "actor_id", actorID)

	var errs []error

	if c.Listings != nil {
		owned, err := c.Listings.BySeller(ctx, domainlistings.SellerID(actorID))
		if err != nil {
			errs = append(errs, err)
			log.Error("account cleanup: list listings failed", "actor_id", actorID, "error", err)
		}
		for _, listing := range owned {
			c.removeListingMedia(ctx, log, listing)
			if err := c.Listings.Delete(ctx, listing.ID); err != nil && !errors.Is(err, domainlistings.ErrNotFound) {
				errs = append(errs, err)
				log.Error("account cleanup: delete listing failed", "listing_id", listing.ID, "error", err)
			}
		}
	}

	if c.Store != nil {
		result, err := c.Store.RemoveParticipant(ctx, actorID)
		if err != nil {
			errs = append(errs, err)
			log.Error("account cleanup: conversation cascade failed", "actor_id", actorID, "error", err)
		} else {
			log.Info("account cleanup: conversations detached",
				"actor_id", actorID, "updated", len(result.Updated), "purged", len(result.Purged))
		}
	}

	if c.Sessions != nil {
		if err := c.Sessions.DeleteByUser(ctx, domainuser.ID(actorID)); err != nil {
			errs = append(errs, err)
			log.Error("account cleanup: session removal failed", "actor_id", actorID, "error", err)
		}
	}
	if c.Users != nil {
		if err := c.Users.Delete(ctx, domainuser.ID(actorID)); err != nil && !errors.Is(err, domainuser.ErrNotFound) {
			errs = append(errs, err)
			log.Error("account cleanup: user removal failed", "actor_id", actorID, "error", err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	log.Info("account cleanup finished", "actor_id", actorID)
	return nil
}

func (c *Cascader) removeListingMedia(ctx context.Context, log *slog.Logger, listing *domainlistings.Listing) {
	if c.Media == nil {
		return
	}
	for _, url := range listing.ImageURLs {
		if err := c.Media.Remove(ctx, url); err != nil {
			// Orphaned media is acceptable; the bucket can be swept later.
			log.Warn("account cleanup: media removal failed", "listing_id", listing.ID, "url", url, "error", err)
		}
	}
}
