package service

import (
	"encoding/json"

	"github.com/xiaot623/gogo/realtime/internal/domain"
	"github.com/xiaot623/gogo/realtime/internal/hub"
)

// PushEvent broadcasts an event produced outside the gateway (for example a
// new inquiry created by the CRUD backend) to a room.
func (s *Service) PushEvent(room, event string, payload json.RawMessage) error {
	if _, _, ok := hub.ParseRoom(room); !ok {
		return domain.Invalid("invalid room %q", room)
	}
	if event == "" {
		return domain.Invalid("event is required")
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return domain.Invalid("payload is not valid JSON")
	}

	var data interface{}
	if len(payload) > 0 {
		data = payload
	}
	s.broadcast(room, event, data, nil)
	return nil
}

// IsOnline reports whether principalID has a live connection on this process.
func (s *Service) IsOnline(principalID string) bool {
	return s.hub.IsOnline(principalID)
}
