package gateway

import (
	"context"
	"encoding/json"

	"github.com/linnemanlabs/ccgate/internal/realtime"
)

// MsgModelUpdated announces that the backend changed one instance.
const MsgModelUpdated = "model_updated"

type modelUpdated struct {
	Model string `json:"model"`
	ID    int64  `json:"id"`
}

// HandleRealtime is the realtime.Handler for the session. Updates for cached
// models mark the instance stale; other message types are only logged.
func (s *Service) HandleRealtime(ctx context.Context, msg realtime.Message) {
	switch msg.Type {
	case MsgModelUpdated:
		var m modelUpdated
		if err := json.Unmarshal(msg.Raw, &m); err != nil {
			s.logger.Warn(ctx, "malformed model update", "error", err)
			return
		}
		if !s.models.Invalidate(m.Model, m.ID) {
			s.logger.Info(ctx, "update for uncached model ignored", "model", m.Model, "id", m.ID)
		}
	default:
		s.logger.Info(ctx, "unhandled realtime message", "type", msg.Type)
	}
}
