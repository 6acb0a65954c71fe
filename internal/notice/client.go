package notice

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
)

// Watch connects to a notice server at url (ws://host:port/ws) and calls fn
// for every notice until ctx is done or the server closes the connection.
func Watch(ctx context.Context, url string, fn func(Notice)) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer conn.CloseNow()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return nil
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return nil
			}
			return fmt.Errorf("failed to read notice: %w", err)
		}

		var n Notice
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("malformed notice from server: %w", err)
		}
		fn(n)
	}
}
