package logstream

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

// readWebSocket streams one job's log messages. Each text message is one line.
func (o *Opener) readWebSocket(ctx context.Context, h *Handle, streamURL string, deliver func(string)) error {
	conn, resp, err := o.dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connection failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("connection failed: %w", err)
	}
	if !h.attach(conn) {
		_ = conn.Close()
		return nil
	}
	defer conn.Close()

	conn.SetReadLimit(int64(o.cfg.MaxLineBytes))
	o.logger.Debug().Str("url", streamURL).Msg("Log stream connected")

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				return fmt.Errorf("message longer than %d bytes, stream stopped", o.cfg.MaxLineBytes)
			}
			return err
		}

		switch messageType {
		case websocket.TextMessage:
			if !utf8.Valid(data) {
				deliver(DiagnosticPrefix + "dropped message with invalid UTF-8")
				continue
			}
			deliver(string(data))
		case websocket.BinaryMessage:
			deliver(DiagnosticPrefix + "dropped binary message")
		}
	}
}
