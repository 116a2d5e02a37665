package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// serveConn upgrades one connection and hands the wrapped conn to fn.
func serveConn(t *testing.T, fn func(*WebSocketConn)) *websocket.Conn {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fn(NewWebSocketConn(ws, time.Second, 64))
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestWebSocketConn_ReadWriteClose(t *testing.T) {
	type read struct {
		kind MessageType
		data string
	}
	reads := make(chan read, 4)

	client := serveConn(t, func(c *WebSocketConn) {
		for i := 0; i < 2; i++ {
			kind, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			reads <- read{kind, string(data)}
		}
		c.WriteJSON(map[string]string{"text": "ok"})
		c.Close()
		c.Close()
	})

	client.WriteMessage(websocket.TextMessage, []byte(`{"language":"en"}`))
	client.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})

	want := []read{{MessageText, `{"language":"en"}`}, {MessageBinary, "\x01\x02\x03"}}
	for _, w := range want {
		select {
		case got := <-reads:
			if got != w {
				t.Errorf("got %+v, want %+v", got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("server did not read message")
		}
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply map[string]string
	if err := client.ReadJSON(&reply); err != nil || reply["text"] != "ok" {
		t.Fatalf("unexpected reply %v, %v", reply, err)
	}

	_, _, err := client.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal close, got %v", err)
	}
}

func TestWebSocketConn_ReadLimit(t *testing.T) {
	errs := make(chan error, 1)
	client := serveConn(t, func(c *WebSocketConn) {
		_, _, err := c.ReadMessage()
		errs <- err
	})

	client.WriteMessage(websocket.BinaryMessage, make([]byte, 1024))
	select {
	case err := <-errs:
		if err == nil {
			t.Error("expected read limit error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not return")
	}
}
