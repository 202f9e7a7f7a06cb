package httpapi

import (
	"context"
	"net/http"

	"nhooyr.io/websocket"
)

// handleLiveFeed upgrades the connection and registers it with the
// fan-out hub. The read loop exists only to notice the peer going away;
// inbound frames are discarded.
func (s *Server) handleLiveFeed(w http.ResponseWriter, r *http.Request) {
	acceptOpts := &websocket.AcceptOptions{}
	if len(s.cfg.AllowedOrigins) > 0 {
		acceptOpts.OriginPatterns = s.cfg.AllowedOrigins
	} else {
		acceptOpts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, acceptOpts)
	if err != nil {
		s.cfg.Logger.Printf("live feed: accept failed: %v", err)
		return
	}
	feed := &wsFanoutConn{conn: conn}
	hub := s.service.Hub()
	hub.Register(feed)
	defer hub.Unregister(feed)

	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

type wsFanoutConn struct {
	conn *websocket.Conn
}

func (c *wsFanoutConn) WriteEvent(ctx context.Context, payload []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

func (c *wsFanoutConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
