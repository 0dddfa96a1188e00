package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/arena-sync/internal/shell"
	"github.com/DoyleJ11/arena-sync/internal/types"
)

const writeTimeout = 3 * time.Second

// Handler streams frames and the overlay to the page and feeds its key
// events into the shell.
func Handler(sh *shell.Shell, logger *zap.SugaredLogger) http.HandlerFunc {
	logger = logger.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Warnw("accept failed", "error", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		// A closed page holds no keys.
		defer sh.Blur()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go writeLoop(ctx, conn, sh, logger)

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if ctx.Err() == nil {
						logger.Debugw("read failed", "error", err)
					}
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeJSON(ctx, conn, types.ServerMessage{Type: types.MsgError, Error: "bad json"})
				continue
			}
			if !apply(sh, cm) {
				writeJSON(ctx, conn, types.ServerMessage{Type: types.MsgError, Error: "unknown type"})
			}
		}
	}
}

func apply(sh *shell.Shell, m types.ClientMessage) bool {
	switch m.Type {
	case types.MsgKeyDown:
		sh.KeyDown(m.Key)
	case types.MsgKeyUp:
		sh.KeyUp(m.Key)
	case types.MsgBlur:
		sh.Blur()
	default:
		return false
	}
	return true
}

// writeLoop sends every new frame as a binary message, followed by the
// overlay when it changed.
func writeLoop(ctx context.Context, conn *websocket.Conn, sh *shell.Shell, logger *zap.SugaredLogger) {
	var last shell.Overlay
	first := true
	for {
		frame, next := sh.Frame()
		if frame.PNG != nil {
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageBinary, frame.PNG)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					logger.Debugw("frame write failed", "error", err)
				}
				return
			}
		}

		if o := sh.Overlay(); first || o != last {
			if !writeJSON(ctx, conn, types.ServerMessage{Type: types.MsgOverlay, Overlay: &o}) {
				return
			}
			last, first = o, false
		}

		select {
		case <-ctx.Done():
			return
		case <-next:
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload) == nil
}
