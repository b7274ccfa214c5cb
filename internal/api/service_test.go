package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/channel"
	"github.com/matheus3301/relay/internal/credential"
	"github.com/matheus3301/relay/internal/model"
	"github.com/matheus3301/relay/internal/notice"
	"github.com/matheus3301/relay/internal/realtime"
	"github.com/matheus3301/relay/internal/rest"
	"github.com/matheus3301/relay/internal/session"
	"github.com/matheus3301/relay/internal/status"
	"github.com/matheus3301/relay/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// chatServer is a minimal stand-in for the chat server: REST under /api and
// the push socket under /socket.
type chatServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newChatServer(t *testing.T) *chatServer {
	t.Helper()
	cs := &chatServer{conns: make(chan *websocket.Conn, 4)}
	self := map[string]any{"_id": "u1", "fullName": "Alice", "email": "alice@example.com"}
	authed := func(r *http.Request) bool { return r.Header.Get("Authorization") == "Bearer tok" }

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/{mode}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("mode") == "signup" {
			writeJSON(w, map[string]any{"success": false, "message": "Email taken"})
			return
		}
		writeJSON(w, map[string]any{"success": true, "userData": self, "token": "tok", "message": "Login successful"})
	})
	mux.HandleFunc("GET /api/auth/check", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			w.WriteHeader(http.StatusUnauthorized)
			writeJSON(w, map[string]any{"success": false, "message": "Not authorized"})
			return
		}
		writeJSON(w, map[string]any{"success": true, "user": self})
	})
	mux.HandleFunc("GET /api/messages/users", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"success": true,
			"users": []map[string]any{
				{"_id": "u3", "fullName": "Carol"},
				{"_id": "u2", "fullName": "Bob"},
			},
			"unseenMessages": map[string]int{"u3": 1},
		})
	})
	mux.HandleFunc("GET /api/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"success": true, "messages": []map[string]any{
			{"_id": "h1", "senderId": r.PathValue("id"), "receiverId": "u1", "text": "earlier", "seen": true},
		}})
	})
	mux.HandleFunc("POST /api/messages/send/{id}", func(w http.ResponseWriter, r *http.Request) {
		var draft model.Draft
		_ = json.NewDecoder(r.Body).Decode(&draft)
		writeJSON(w, map[string]any{"success": true, "newMessage": map[string]any{
			"_id": "s1", "senderId": "u1", "receiverId": r.PathValue("id"), "text": draft.Text,
		}})
	})
	mux.HandleFunc("PUT /api/messages/mark/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"success": true})
	})
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux.HandleFunc("GET /socket", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cs.conns <- ws
	})

	cs.srv = httptest.NewServer(mux)
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *chatServer) push(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	frame, _ := json.Marshal(channel.Frame{Event: event, Data: raw})
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatal(err)
	}
}

type stack struct {
	client  *Client
	chat    *chatServer
	manager *session.Manager
}

func newStack(t *testing.T) *stack {
	t.Helper()
	// Short path: Unix socket paths are limited to ~104 chars on macOS.
	tmpDir, err := os.MkdirTemp("/tmp", "relay-api-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	db, err := store.Open(filepath.Join(tmpDir, "relay.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cs := newChatServer(t)
	logger := zap.NewNop()
	b := bus.New()
	creds := credential.NewStore(db, logger)
	restClient := rest.New(cs.srv.URL+"/api", 5*time.Second, creds, logger)
	ch := channel.New("ws"+strings.TrimPrefix(cs.srv.URL, "http")+"/socket", 5*time.Second, b, logger)
	engine := realtime.NewEngine(restClient, b, logger)
	engine.Start(context.Background())
	t.Cleanup(engine.Stop)
	notes := notice.New(b)
	mgr := session.NewManager(creds, restClient, ch, engine, status.NewMachine(b), notes, b, logger)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mgr.Shutdown)

	grpcSrv := grpc.NewServer()
	RegisterRelayServer(grpcSrv, NewService("test", mgr, engine, notes, db, b, logger))
	socketPath := filepath.Join(tmpDir, "d.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = grpcSrv.Serve(listener) }()
	t.Cleanup(grpcSrv.Stop)

	client, err := Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return &stack{client: client, chat: cs, manager: mgr}
}

func (s *stack) login(t *testing.T, ctx context.Context) *websocket.Conn {
	t.Helper()
	resp, err := s.client.Login(ctx, &LoginRequest{
		Mode:        "login",
		Credentials: model.Credentials{Email: "alice@example.com", Password: "secret"},
	})
	if err != nil {
		t.Fatalf("Login error = %v", err)
	}
	if resp.Self.ID != "u1" {
		t.Fatalf("self = %+v", resp.Self)
	}
	select {
	case ws := <-s.chat.conns:
		t.Cleanup(func() { _ = ws.Close() })
		return ws
	case <-time.After(2 * time.Second):
		t.Fatal("channel never connected")
		return nil
	}
}

func TestStatusAnonymous(t *testing.T) {
	s := newStack(t)
	resp, err := s.client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status error = %v", err)
	}
	if resp.Profile != "test" || resp.State != string(status.Anonymous) || resp.Self != nil || resp.Connected {
		t.Errorf("status = %+v", resp)
	}
}

func TestSignupRejectedSurfacesReason(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.client.Login(ctx, &LoginRequest{
		Mode:        "signup",
		Credentials: model.Credentials{FullName: "Alice", Email: "alice@example.com", Password: "secret"},
	})
	if grpcstatus.Code(err) != codes.FailedPrecondition {
		t.Fatalf("Login(signup) code = %v (%v), want FailedPrecondition", grpcstatus.Code(err), err)
	}

	resp, err := s.client.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Notice == nil || resp.Notice.Text != "Email taken" {
		t.Errorf("notice = %+v, want Email taken", resp.Notice)
	}
	if resp.State != string(status.Anonymous) {
		t.Errorf("state = %s, want ANONYMOUS", resp.State)
	}
}

func TestLoginValidation(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.client.Login(ctx, &LoginRequest{Mode: "register", Credentials: model.Credentials{Email: "a", Password: "b"}})
	if grpcstatus.Code(err) != codes.InvalidArgument {
		t.Errorf("bad mode code = %v, want InvalidArgument", grpcstatus.Code(err))
	}
	_, err = s.client.Login(ctx, &LoginRequest{Mode: "login"})
	if grpcstatus.Code(err) != codes.InvalidArgument {
		t.Errorf("missing credentials code = %v, want InvalidArgument", grpcstatus.Code(err))
	}
}

func TestConversationFlow(t *testing.T) {
	s := newStack(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ws := s.login(t, ctx)

	watch, err := s.client.WatchEvents(ctx, "message.")
	if err != nil {
		t.Fatal(err)
	}

	contacts, err := s.client.RefreshContacts(ctx)
	if err != nil {
		t.Fatalf("RefreshContacts error = %v", err)
	}
	if len(contacts.Contacts) != 2 || contacts.Contacts[0].User.ID != "u3" || contacts.Contacts[0].Unseen != 1 {
		t.Fatalf("contacts = %+v", contacts.Contacts)
	}

	msgs, err := s.client.OpenConversation(ctx, "u2")
	if err != nil {
		t.Fatalf("OpenConversation error = %v", err)
	}
	if msgs.ContactID != "u2" || len(msgs.Messages) != 1 || msgs.Messages[0].ID != "h1" {
		t.Fatalf("messages = %+v", msgs)
	}

	s.chat.push(t, ws, channel.EventNewMessage, model.Message{ID: "p1", SenderID: "u2", ReceiverID: "u1", Text: "live"})

	for {
		evt, err := watch.Recv()
		if err != nil {
			t.Fatalf("watch Recv error = %v", err)
		}
		if evt.Kind != "message.appended" {
			continue
		}
		var payload realtime.MessageAppended
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			t.Fatal(err)
		}
		if payload.Message.ID == "p1" {
			break
		}
	}

	sent, err := s.client.SendMessage(ctx, &SendMessageRequest{Draft: model.Draft{Text: "reply"}})
	if err != nil {
		t.Fatalf("SendMessage error = %v", err)
	}
	if sent.Message.ID != "s1" || sent.Message.ReceiverID != "u2" {
		t.Errorf("sent = %+v", sent.Message)
	}

	list, err := s.client.ListMessages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, m := range list.Messages {
		ids = append(ids, m.ID)
	}
	if strings.Join(ids, ",") != "h1,p1,s1" {
		t.Errorf("messages = %v, want [h1 p1 s1]", ids)
	}

	contacts, err = s.client.ListContacts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if contacts.Contacts[0].User.ID != "u2" || contacts.Selected != "u2" {
		t.Errorf("contacts = %+v selected = %q, want u2 first and selected", contacts.Contacts, contacts.Selected)
	}

	_, err = s.client.SendMessage(ctx, &SendMessageRequest{Draft: model.Draft{}})
	if grpcstatus.Code(err) != codes.InvalidArgument {
		t.Errorf("empty draft code = %v, want InvalidArgument", grpcstatus.Code(err))
	}
	st, err := s.client.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Notice == nil || st.Notice.Level != notice.LevelWarning || st.Notice.Text != emptyMessageNotice {
		t.Errorf("notice after empty send = %+v, want warning %q", st.Notice, emptyMessageNotice)
	}
}

func TestOpenLastConversation(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	s.login(t, ctx)

	if _, err := s.client.OpenConversation(ctx, ""); grpcstatus.Code(err) != codes.InvalidArgument {
		t.Errorf("no last conversation code = %v, want InvalidArgument", grpcstatus.Code(err))
	}
	if _, err := s.client.OpenConversation(ctx, "u3"); err != nil {
		t.Fatal(err)
	}
	resp, err := s.client.OpenConversation(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if resp.ContactID != "u3" {
		t.Errorf("reopened %q, want u3", resp.ContactID)
	}
}

func TestLogoutClearsState(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	s.login(t, ctx)

	if _, err := s.client.RefreshContacts(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.client.Logout(ctx); err != nil {
		t.Fatalf("Logout error = %v", err)
	}

	st, err := s.client.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != string(status.Anonymous) || st.Connected || st.Contacts != 0 {
		t.Errorf("status after logout = %+v", st)
	}
	if _, err := s.client.RefreshContacts(ctx); grpcstatus.Code(err) != codes.Unauthenticated {
		t.Errorf("RefreshContacts after logout code = %v, want Unauthenticated", grpcstatus.Code(err))
	}
	if _, err := s.client.Reconnect(ctx); grpcstatus.Code(err) != codes.Unauthenticated {
		t.Errorf("Reconnect after logout code = %v, want Unauthenticated", grpcstatus.Code(err))
	}
}

func TestRestoreRejectedToken(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.client.Restore(ctx, "forged")
	if grpcstatus.Code(err) != codes.Unauthenticated {
		t.Fatalf("Restore code = %v (%v), want Unauthenticated", grpcstatus.Code(err), err)
	}
	st, err := s.client.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != string(status.Anonymous) || st.Notice == nil || st.Notice.Level != notice.LevelError {
		t.Errorf("status = %+v", st)
	}
}
