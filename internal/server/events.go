package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/at-ishikawa/playtrack/internal/channel"
	"github.com/at-ishikawa/playtrack/internal/schema"
)

const writeTimeout = 5 * time.Second

const (
	EventSnapshot = "snapshot"
	EventChange   = "change"
)

// Event is one message of the change feed. The first message of a stream is
// a snapshot of the state; every later one is a change.
type Event struct {
	Type   string           `json:"type"`
	State  *schema.Envelope `json:"state,omitempty"`
	Change *channel.Change  `json:"change,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket handshake failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	origin := "events-" + uuid.NewString()
	sub, err := s.changes.Subscribe(r.Context(), origin)
	if err != nil {
		s.logger.Error().Err(err).Msg("subscribe to changes")
		return
	}
	defer sub.Close()

	logger := s.logger.With().Str("subscriber", origin).Logger()
	logger.Debug().Msg("event stream opened")

	// the client only sends close frames
	ctx := conn.CloseRead(r.Context())

	env, err := s.store.Get(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("load state for snapshot")
		return
	}
	if err := s.send(ctx, conn, Event{Type: EventSnapshot, State: &env}); err != nil {
		logger.Debug().Err(err).Msg("send snapshot")
		return
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("event stream closed by client")
			return
		case <-s.done:
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case change, ok := <-sub.C():
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "subscription closed")
				return
			}
			if change.Key != s.store.Key() {
				continue
			}
			if err := s.send(ctx, conn, Event{Type: EventChange, Change: &change}); err != nil {
				logger.Debug().Err(err).Msg("send change")
				return
			}
		}
	}
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, event Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, event)
}
