package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/fasthttp/websocket"

	"github.com/makeasinger/panelcast/internal/model"
)

// Stream reads a job's events from its room.
type Stream struct {
	conn *websocket.Conn
}

// RoomURL turns the server's http base URL into the websocket join URL.
func RoomURL(server, jobID, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws/stories/" + url.PathEscape(jobID)
	if token != "" {
		u.RawQuery = url.Values{"token": {token}}.Encode()
	}
	return u.String(), nil
}

// Dial joins the room of jobID.
func Dial(ctx context.Context, server, jobID, token string) (*Stream, error) {
	target, err := RoomURL(server, jobID, token)
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("join room: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("join room: %w", err)
	}
	return &Stream{conn: conn}, nil
}

// Next blocks until the next event. It returns io.EOF once the server has
// closed the room normally.
func (s *Stream) Next() (model.Event, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return model.Event{}, io.EOF
			}
			return model.Event{}, err
		}

		var head model.WSMessage
		if err := json.Unmarshal(data, &head); err != nil {
			continue
		}
		switch head.Type {
		case model.WSMessageTypeEvent:
			var msg model.WSEventMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				return model.Event{}, fmt.Errorf("decode event frame: %w", err)
			}
			return msg.Event, nil
		case model.WSMessageTypeError:
			var msg model.WSErrorMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				return model.Event{}, fmt.Errorf("decode error frame: %w", err)
			}
			return model.Event{}, errors.New(msg.Error.Code + ": " + msg.Error.Message)
		}
	}
}

func (s *Stream) Close() error {
	return s.conn.Close()
}
