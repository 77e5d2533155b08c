package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHubDeliversToSubscriber(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	received := make(chan OrderChanged, 1)
	go func() {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var ev OrderChanged
		if err := conn.ReadJSON(&ev); err == nil {
			received <- ev
		}
	}()

	// Registration happens server-side after the upgrade; republish until
	// the subscriber sees the event.
	want := OrderChanged{OrderID: "order-1", Kind: "completed"}
	for i := 0; i < 40; i++ {
		hub.Publish(context.Background(), want)
		select {
		case got := <-received:
			if got != want {
				t.Fatalf("received %+v, want %+v", got, want)
			}
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatal("subscriber never received the event")
}
