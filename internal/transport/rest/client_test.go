package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/roomwire/chatsync/internal/domain"
)

func TestFetchMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rooms/room-1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("page: got %q", got)
		}
		if got := r.URL.Query().Get("size"); got != "25" {
			t.Errorf("size: got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header: got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"id": "m1", "roomId": "room-1", "senderId": "bob", "content": "hi", "contentType": "TEXT", "timestamp": 1700000000000},
				{"id": "m2", "roomId": "room-1", "senderId": "alice", "content": "yo", "contentType": "TEXT", "timestamp": 1700000001000},
			},
			"page":          2,
			"totalPages":    3,
			"totalElements": 55,
			"hasNext":       false,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", "alice")
	page, err := c.FetchMessages(context.Background(), "room-1", 2, 25)
	if err != nil {
		t.Fatal(err)
	}
	if page.Number != 2 || page.TotalPages != 3 || page.HasNext {
		t.Fatalf("page metadata mangled: %+v", page)
	}
	if len(page.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(page.Messages))
	}
	if page.Messages[0].IsFromMe {
		t.Fatal("bob's message flagged as self-authored")
	}
	if !page.Messages[1].IsFromMe {
		t.Fatal("alice's message not flagged as self-authored")
	}
}

func TestListRooms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": "room-1", "name": "General", "kind": "group", "participants": []string{"alice", "bob"}, "unreadCount": 2},
		})
	}))
	defer srv.Close()

	rooms, err := NewClient(srv.URL, "", "alice").ListRooms(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 1 || rooms[0].Kind != domain.RoomKindGroup || rooms[0].UnreadCount != 2 {
		t.Fatalf("rooms mangled: %+v", rooms[0])
	}
}

func TestErrorMapping(t *testing.T) {
	t.Run("404 with body becomes a server rejection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"code": "ROOM_NOT_FOUND", "message": "no such room"})
		}))
		defer srv.Close()

		_, err := NewClient(srv.URL, "", "alice").FetchMessages(context.Background(), "room-x", 0, 10)
		rej, ok := domain.IsServerRejection(err)
		if !ok {
			t.Fatalf("expected a server rejection, got %v", err)
		}
		if rej.Code != "ROOM_NOT_FOUND" {
			t.Fatalf("code: got %q", rej.Code)
		}
	})

	t.Run("500 with body becomes an api error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"code": "BOOM", "message": "oops"})
		}))
		defer srv.Close()

		err := NewClient(srv.URL, "", "alice").MarkMessagesRead(context.Background(), "room-1")
		apiErr, ok := err.(*APIError)
		if !ok {
			t.Fatalf("expected *APIError, got %T: %v", err, err)
		}
		if apiErr.Code != "BOOM" {
			t.Fatalf("code: got %q", apiErr.Code)
		}
	})

	t.Run("410 without body still rejects", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusGone)
		}))
		defer srv.Close()

		err := NewClient(srv.URL, "", "alice").MarkMessagesRead(context.Background(), "room-1")
		if _, ok := domain.IsServerRejection(err); !ok {
			t.Fatalf("expected a server rejection, got %v", err)
		}
	})
}

func TestSendMessageFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: got %s", r.Method)
		}
		var wire domain.WireMessage
		json.NewDecoder(r.Body).Decode(&wire)
		if wire.TempID == "" {
			t.Error("temporary message should carry its temp id")
		}
		wire.ID = "srv-1"
		json.NewEncoder(w).Encode(wire)
	}))
	defer srv.Close()

	temp := domain.NewTemporaryText("room-1", "alice", "hi", time.Now().UTC())
	confirmed, err := NewClient(srv.URL, "", "alice").SendMessage(context.Background(), temp)
	if err != nil {
		t.Fatal(err)
	}
	if confirmed.ID != "srv-1" {
		t.Fatalf("expected the server id, got %s", confirmed.ID)
	}
	if confirmed.EchoOf != temp.ID {
		t.Fatalf("echo correlation lost: %q", confirmed.EchoOf)
	}
}
