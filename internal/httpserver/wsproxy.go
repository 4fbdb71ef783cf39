package httpserver

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"jellyswarrm/internal/jerrors"
	"jellyswarrm/internal/logging"

	"github.com/gorilla/websocket"
)

// handleWebSocket implements the passthrough extension point named in
// spec §9: a client's `/socket` connection is relayed to the owning
// backend's own websocket endpoint, with every JSON message rewritten
// through the ID Rewriter table in both directions before forwarding, so
// session/library-change notifications carry virtual ids just like
// every REST response does.
const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	dev, _ := deviceFromContext(r.Context())

	backends, err := s.backendsForUser(r.Context(), sess.UserID, dev, true)
	if err != nil || len(backends) == 0 {
		respondWithErr(w, jerrors.BackendUnavailable("", "no backend available for websocket passthrough", err))
		return
	}
	backend := backends[0]

	backendURL, err := url.Parse(backend.Server.BaseURL)
	if err != nil {
		respondWithErr(w, jerrors.Config("parsing backend base url", err))
		return
	}
	backendURL.Scheme = strings.Replace(backendURL.Scheme, "http", "ws", 1)
	backendURL.Path = "/socket"
	q := backendURL.Query()
	q.Set("api_key", backend.AccessToken)
	q.Set("deviceId", dev.DeviceID)
	backendURL.RawQuery = q.Encode()

	clientConn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Log.WithError(err).Warn("failed to upgrade client websocket")
		return
	}
	defer clientConn.Close()

	backendConn, _, err := websocket.DefaultDialer.Dial(backendURL.String(), nil)
	if err != nil {
		logging.Log.WithError(err).Warn("failed to dial backend websocket")
		return
	}
	defer backendConn.Close()

	done := make(chan struct{})
	go s.relayWebSocket(clientConn, backendConn, backend.Server.BaseURL, sess.UserID, true, done)
	go s.relayWebSocket(backendConn, clientConn, backend.Server.BaseURL, sess.UserID, false, done)
	<-done
}

// relayWebSocket copies JSON text messages from src to dst, rewriting
// every message's id fields before forwarding. inbound is true when src
// is the client leg (messages are heading to the backend, so ids must be
// translated virtual->original); false when relaying a backend
// notification back to the client (original->virtual).
func (s *Server) relayWebSocket(src, dst *websocket.Conn, serverURL, virtualUserID string, inbound bool, done chan struct{}) {
	defer func() {
		select {
		case done <- struct{}{}:
		default:
		}
	}()

	for {
		src.SetReadDeadline(time.Now().Add(wsPongWait))
		msgType, data, err := src.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err == nil {
			var rwErr error
			if inbound {
				rwErr = s.rewriter.Inbound(payload, serverURL)
			} else {
				rwErr = s.rewriter.Outbound(payload, serverURL, virtualUserID)
			}
			if rwErr == nil {
				if rewritten, err := json.Marshal(payload); err == nil {
					data = rewritten
				}
			}
		}

		dst.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := dst.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
