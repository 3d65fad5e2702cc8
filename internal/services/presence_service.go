package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/deividyBarbosa/Transcend-sub001/internal/models"
	"github.com/deividyBarbosa/Transcend-sub001/internal/realtime"
)

// presenceTTL bounds how long a presence record outlives its last refresh.
const presenceTTL = 60 * time.Second

type presenceStore interface {
	Set(ctx context.Context, channelKey string, record models.PresenceRecord, ttl time.Duration) error
	Clear(ctx context.Context, channelKey string, userID int64) error
	Snapshot(ctx context.Context, channelKey string) (models.PresenceSnapshot, error)
}

// PresenceService broadcasts ephemeral online/typing state. Everything here
// is best-effort: failures are logged and swallowed, there is no redelivery,
// and late joiners call Snapshot for the current state instead of replaying
// transitions.
type PresenceService struct {
	store presenceStore
	feed  realtime.Feed
	log   *zap.Logger
}

func NewPresenceService(store presenceStore, feed realtime.Feed, log *zap.Logger) *PresenceService {
	return &PresenceService{store: store, feed: feed, log: log}
}

// SetPresence publishes the caller's state to every subscriber of the
// channel. Producers must keep refreshing digitando=true; consumers treat a
// typing flag older than models.TypingStaleAfter as not typing.
func (s *PresenceService) SetPresence(
	ctx context.Context,
	channelKey string,
	userID int64,
	online bool,
	typing bool,
) {
	record := models.PresenceRecord{
		UserID:    userID,
		Online:    online,
		Typing:    typing,
		UpdatedAt: time.Now().UTC(),
	}

	if err := s.store.Set(ctx, channelKey, record, presenceTTL); err != nil {
		s.log.Warn("presence update dropped",
			zap.String("channel", channelKey),
			zap.Int64("user_id", userID),
			zap.Error(err))
		return
	}

	s.broadcast(ctx, channelKey)
}

// ClearPresence removes the caller from the channel and notifies
// subscribers. Called when a client disconnects.
func (s *PresenceService) ClearPresence(ctx context.Context, channelKey string, userID int64) {
	if err := s.store.Clear(ctx, channelKey, userID); err != nil {
		s.log.Warn("presence clear dropped",
			zap.String("channel", channelKey),
			zap.Int64("user_id", userID),
			zap.Error(err))
		return
	}

	s.broadcast(ctx, channelKey)
}

// Snapshot returns the channel's full current state, for late joiners.
func (s *PresenceService) Snapshot(ctx context.Context, channelKey string) (models.PresenceSnapshot, error) {
	return s.store.Snapshot(ctx, channelKey)
}

func (s *PresenceService) broadcast(ctx context.Context, channelKey string) {
	snapshot, err := s.store.Snapshot(ctx, channelKey)
	if err != nil {
		s.log.Warn("presence snapshot failed", zap.String("channel", channelKey), zap.Error(err))
		return
	}

	payload, err := realtime.NewPresenceEvent(snapshot)
	if err != nil {
		s.log.Warn("encode presence event", zap.Error(err))
		return
	}

	if err := s.feed.Publish(ctx, realtime.PresenceChannel(channelKey), payload); err != nil {
		s.log.Warn("publish presence event", zap.String("channel", channelKey), zap.Error(err))
	}
}
