package ginserver

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	appchat "swapyard/internal/app/chat"
	"swapyard/internal/app/dto"
	domainchat "swapyard/internal/domain/chat"
	domainlistings "swapyard/internal/domain/listings"
)

// ChatHTTP exposes the conversation endpoints.
type ChatHTTP interface {
	OpenListingConversation(c *gin.Context)
	ListMyConversations(c *gin.Context)
	WatchMyConversations(c *gin.Context)
	HasUnread(c *gin.Context)
	WatchUnread(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	MarkRead(c *gin.Context)
	Hide(c *gin.Context)
}

type ChatHandler struct {
	Chat     *appchat.Service
	Listings domainlistings.Repository
	Logger   *slog.Logger
}

// OpenListingConversation gets or creates the buyer/seller thread for a
// listing. Reopening after a hide brings the thread back to the top of the
// caller's inbox.
func (h ChatHandler) OpenListingConversation(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	listingID := strings.TrimSpace(c.Param("id"))
	if listingID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "listing id is required"})
		return
	}
	listing, err := h.Listings.ByID(c.Request.Context(), domainlistings.ListingID(listingID))
	if err != nil {
		if errors.Is(err, domainlistings.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
			return
		}
		h.respondChatError(c, err, "load listing", "listing_id", listingID)
		return
	}
	sellerID := string(listing.Seller)
	if sellerID == p.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot start chat with yourself"})
		return
	}
	conv, err := h.Chat.GetOrCreate(c.Request.Context(), p.ID, sellerID, listingID)
	if err != nil {
		h.respondChatError(c, err, "open conversation", "listing_id", listingID, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, dto.MapConversation(conv, conv.IsUnread(p.ID)))
}

func (h ChatHandler) ListMyConversations(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	threads, err := h.Chat.Inbox(c.Request.Context(), p.ID)
	if err != nil {
		h.respondChatError(c, err, "list conversations", "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, dto.MapThreads(threads))
}

// WatchMyConversations streams the caller's inbox as server-sent events: a
// snapshot first, then one event per change, until the client disconnects.
func (h ChatHandler) WatchMyConversations(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	events, err := h.Chat.WatchInbox(c.Request.Context(), p.ID)
	if err != nil {
		h.respondChatError(c, err, "watch conversations", "user_id", p.ID)
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		ev, open := <-events
		if !open {
			return false
		}
		c.SSEvent(string(ev.Type), mapInboxEvent(ev, p.ID))
		return true
	})
}

func (h ChatHandler) HasUnread(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	unread, err := h.Chat.HasUnread(c.Request.Context(), p.ID)
	if err != nil {
		h.respondChatError(c, err, "check unread", "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"has_unread": unread})
}

// WatchUnread streams the aggregate unread flag: the current value first,
// then one event per flip.
func (h ChatHandler) WatchUnread(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	flags, err := h.Chat.WatchUnread(c.Request.Context(), p.ID)
	if err != nil {
		h.respondChatError(c, err, "watch unread", "user_id", p.ID)
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		unread, open := <-flags
		if !open {
			return false
		}
		c.SSEvent("unread", gin.H{"has_unread": unread})
		return true
	})
}

func (h ChatHandler) ListMessages(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	limit := parsePositiveInt(c.Query("limit"), 50)
	before, err := parseTimeParam(c.Query("before"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before cursor"})
		return
	}
	msgs, err := h.Chat.Messages(c.Request.Context(), conversationID, p.ID, limit, before)
	if err != nil {
		h.respondChatError(c, err, "list messages", "conversation_id", conversationID, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, dto.MapMessages(msgs))
}

func (h ChatHandler) SendMessage(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := h.Chat.Send(c.Request.Context(), conversationID, p.ID, req.Text)
	if err != nil {
		h.respondChatError(c, err, "send message", "conversation_id", conversationID, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusCreated, dto.MapMessage(msg))
}

func (h ChatHandler) MarkRead(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	if err := h.Chat.MarkRead(c.Request.Context(), conversationID, p.ID); err != nil {
		h.respondChatError(c, err, "mark read", "conversation_id", conversationID, "user_id", p.ID)
		return
	}
	c.Status(http.StatusNoContent)
}

// Hide removes the thread from the caller's inbox only; the peer keeps it.
func (h ChatHandler) Hide(c *gin.Context) {
	p, ok := requireAuth(c)
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return
	}
	if err := h.Chat.Hide(c.Request.Context(), conversationID, p.ID); err != nil {
		h.respondChatError(c, err, "hide conversation", "conversation_id", conversationID, "user_id", p.ID)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h ChatHandler) respondChatError(c *gin.Context, err error, action string, attrs ...any) {
	var vErr *domainchat.ValidationError
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error()})
	case errors.Is(err, domainchat.ErrConversationNotFound),
		errors.Is(err, domainlistings.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, domainchat.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat participant"})
	case errors.Is(err, domainchat.ErrStoreUnavailable):
		h.logError(c, err, action, attrs...)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat temporarily unavailable"})
	default:
		h.logError(c, err, action, attrs...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h ChatHandler) logError(c *gin.Context, err error, action string, attrs ...any) {
	if h.Logger != nil {
		h.Logger.Error("chat operation failed",
			append([]any{"action", action, "error", err, "request_id", c.GetString("request_id")}, attrs...)...)
	}
}

type inboxEventPayload struct {
	Snapshot       []dto.Conversation `json:"snapshot,omitempty"`
	Conversation   *dto.Conversation  `json:"conversation,omitempty"`
	ConversationID string             `json:"conversation_id,omitempty"`
}

func mapInboxEvent(ev domainchat.InboxEvent, actorID string) inboxEventPayload {
	var payload inboxEventPayload
	switch ev.Type {
	case domainchat.InboxSnapshot:
		payload.Snapshot = make([]dto.Conversation, 0, len(ev.Snapshot))
		for _, conv := range ev.Snapshot {
			payload.Snapshot = append(payload.Snapshot, dto.MapConversation(conv, conv.IsUnread(actorID)))
		}
	case domainchat.InboxUpsert:
		mapped := dto.MapConversation(ev.Conversation, ev.Conversation.IsUnread(actorID))
		payload.Conversation = &mapped
	case domainchat.InboxRemove:
		payload.ConversationID = ev.ConversationID
	}
	return payload
}

func parsePositiveInt(raw string, def int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return def
	}
	return value
}

func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, raw)
}

var _ ChatHTTP = (*ChatHandler)(nil)
