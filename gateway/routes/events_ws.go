package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"usdengine/core/types"
	"usdengine/gateway/middleware"
)

const wsWriteTimeout = 10 * time.Second

// streamEvents pushes committed engine events to a websocket client. The
// optional account query narrows the stream to one account. When tokens are
// enforced, only admin tokens may watch other accounts or the whole engine.
func (a *api) streamEvents(w http.ResponseWriter, r *http.Request) {
	if a.bus == nil {
		writeError(w, fmt.Errorf("%w: event stream disabled", errUnavailable))
		return
	}
	filter, err := a.streamFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	// Subscribe before the handshake completes so no event committed after
	// the client connects is missed.
	updates, cancel := a.bus.Subscribe()
	defer cancel()
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: a.wsOrigins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := pump(ctx, conn, updates, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (a *api) streamFilter(r *http.Request) (string, error) {
	raw := r.URL.Query().Get("account")
	if !a.scopedStreams || middleware.HasScope(r.Context(), middleware.ScopeAdmin) {
		if raw == "" {
			return "", nil
		}
		account, err := accountParam(r, raw)
		if err != nil {
			return "", err
		}
		return account.Hex(), nil
	}
	call, err := caller(r)
	if err != nil {
		return "", err
	}
	if raw != "" {
		account, err := accountParam(r, raw)
		if err != nil {
			return "", err
		}
		if account != call.Caller {
			return "", fmt.Errorf("%w: stream limited to %s", errForbidden, call.Caller.Hex())
		}
	}
	return call.Caller.Hex(), nil
}

// originPatterns turns the CORS origin list into websocket host patterns.
func originPatterns(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		if origin == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, origin)
	}
	return out
}

func pump(ctx context.Context, conn *websocket.Conn, updates <-chan *types.Event, filter string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if filter != "" && !strings.EqualFold(evt.Attr("account"), filter) {
				continue
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
