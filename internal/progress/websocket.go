package progress

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"scribe/internal/logging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WebSocketHandler streams events as JSON text frames. The optional
// media_id query parameter filters by media item and since replays buffered
// history first.
func WebSocketHandler(b *Broadcaster, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		var mediaID int64
		if raw := strings.TrimSpace(query.Get("media_id")); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed < 0 {
				http.Error(w, "invalid media_id", http.StatusBadRequest)
				return
			}
			mediaID = parsed
		}
		since, _ := strconv.ParseUint(query.Get("since"), 10, 64)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug("websocket upgrade failed", logging.Error(err))
			return
		}
		defer conn.Close()

		sub := b.Subscribe(mediaID)
		defer sub.Cancel()

		// Reader goroutine only watches for close and pongs.
		closed := make(chan struct{})
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		write := func(evt Event) error {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			return conn.WriteJSON(evt)
		}

		last := since
		if since > 0 {
			backlog, _, _ := b.History().Fetch(r.Context(), since, 0, mediaID, false)
			for _, evt := range backlog {
				if err := write(evt); err != nil {
					return
				}
				last = evt.Seq
			}
		}

		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case evt, ok := <-sub.C:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
						time.Now().Add(wsWriteWait))
					return
				}
				if evt.Seq <= last {
					continue
				}
				if err := write(evt); err != nil {
					return
				}
				last = evt.Seq
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			case <-closed:
				return
			case <-r.Context().Done():
				return
			}
		}
	})
}
