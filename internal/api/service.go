package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/model"
	"github.com/matheus3301/relay/internal/notice"
	"github.com/matheus3301/relay/internal/realtime"
	"github.com/matheus3301/relay/internal/rest"
	"github.com/matheus3301/relay/internal/session"
	"github.com/matheus3301/relay/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const (
	watchBuffer        = 256
	emptyMessageNotice = "Cannot send an empty message."
)

// Service implements RelayServer on top of the session manager and sync engine.
type Service struct {
	profile   string
	startedAt time.Time
	session   *session.Manager
	engine    *realtime.Engine
	notes     *notice.Notifier
	db        *store.DB
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewService creates the service. db may be nil, in which case the last
// opened conversation is not remembered.
func NewService(profile string, mgr *session.Manager, engine *realtime.Engine, notes *notice.Notifier, db *store.DB, b *bus.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		profile:   profile,
		startedAt: time.Now(),
		session:   mgr,
		engine:    engine,
		notes:     notes,
		db:        db,
		bus:       b,
		logger:    logger,
	}
}

func (s *Service) Status(_ context.Context, _ *StatusRequest) (*StatusResponse, error) {
	info := s.session.Info()
	snap := s.engine.Snapshot()
	return &StatusResponse{
		Profile:   s.profile,
		State:     string(info.State),
		Self:      info.Self,
		Connected: info.Connected,
		UptimeMs:  time.Since(s.startedAt).Milliseconds(),
		Selected:  snap.Selected,
		Contacts:  len(snap.Contacts),
		Online:    len(snap.Online),
		Notice:    s.notes.Current(),
	}, nil
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*SelfResponse, error) {
	mode, err := model.ParseAuthMode(req.Mode)
	if err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	if req.Credentials.Email == "" || req.Credentials.Password == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "email and password are required")
	}
	self, err := s.session.Login(ctx, mode, req.Credentials)
	if err != nil {
		return nil, toStatus("login", err)
	}
	return &SelfResponse{Self: *self}, nil
}

func (s *Service) Restore(ctx context.Context, req *RestoreRequest) (*SelfResponse, error) {
	if req.Token == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "token is required")
	}
	self, err := s.session.RestoreOrLogin(ctx, req.Token)
	if err != nil {
		return nil, toStatus("restore", err)
	}
	return &SelfResponse{Self: *self}, nil
}

func (s *Service) Logout(_ context.Context, _ *LogoutRequest) (*LogoutResponse, error) {
	s.session.Logout()
	if s.db != nil {
		if err := s.db.ClearState(); err != nil {
			s.logger.Warn("failed to clear sync state", zap.Error(err))
		}
	}
	return &LogoutResponse{}, nil
}

func (s *Service) UpdateProfile(ctx context.Context, req *UpdateProfileRequest) (*SelfResponse, error) {
	self, err := s.session.UpdateProfile(ctx, req.Update)
	if err != nil {
		return nil, toStatus("update profile", err)
	}
	return &SelfResponse{Self: *self}, nil
}

func (s *Service) Reconnect(ctx context.Context, _ *ReconnectRequest) (*ReconnectResponse, error) {
	if err := s.session.Reconnect(ctx); err != nil {
		return nil, toStatus("reconnect", err)
	}
	return &ReconnectResponse{Connected: s.session.Info().Connected}, nil
}

func (s *Service) RefreshContacts(ctx context.Context, _ *ContactsRequest) (*ContactsResponse, error) {
	if err := s.engine.RefreshContacts(ctx); err != nil {
		s.notes.Error(rest.Reason(err))
		return nil, toStatus("refresh contacts", err)
	}
	return s.contacts(), nil
}

func (s *Service) ListContacts(_ context.Context, _ *ContactsRequest) (*ContactsResponse, error) {
	return s.contacts(), nil
}

func (s *Service) contacts() *ContactsResponse {
	snap := s.engine.Snapshot()
	online := make(map[string]bool, len(snap.Online))
	for _, id := range snap.Online {
		online[id] = true
	}
	resp := &ContactsResponse{
		Contacts: make([]Contact, 0, len(snap.Contacts)),
		Selected: snap.Selected,
	}
	for _, u := range snap.Contacts {
		resp.Contacts = append(resp.Contacts, Contact{User: u, Unseen: snap.Unseen[u.ID], Online: online[u.ID]})
	}
	return resp
}

func (s *Service) OpenConversation(ctx context.Context, req *OpenConversationRequest) (*MessagesResponse, error) {
	id := req.ContactID
	if id == "" && s.db != nil {
		last, err := s.db.GetState(store.StateLastContact)
		if err != nil {
			s.logger.Warn("failed to read last conversation", zap.Error(err))
		}
		id = last
	}
	if id == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "contact id is required")
	}

	if err := s.engine.Open(ctx, id); err != nil {
		if !errors.Is(err, realtime.ErrStaleHistory) {
			s.notes.Error(rest.Reason(err))
		}
		return nil, toStatus("open conversation", err)
	}
	if s.db != nil {
		if err := s.db.SetState(store.StateLastContact, id); err != nil {
			s.logger.Warn("failed to remember conversation", zap.Error(err))
		}
	}
	return s.messages(), nil
}

func (s *Service) ListMessages(_ context.Context, _ *ListMessagesRequest) (*MessagesResponse, error) {
	return s.messages(), nil
}

func (s *Service) messages() *MessagesResponse {
	snap := s.engine.Snapshot()
	return &MessagesResponse{ContactID: snap.Selected, Messages: snap.Messages}
}

func (s *Service) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	id := req.ContactID
	if id == "" {
		id = s.engine.Selected()
	}
	msg, err := s.engine.Send(ctx, id, req.Draft)
	if err != nil {
		if errors.Is(err, model.ErrEmptyMessage) {
			s.notes.Warn(emptyMessageNotice)
		} else {
			s.notes.Error(rest.Reason(err))
		}
		return nil, toStatus("send message", err)
	}
	return &SendMessageResponse{Message: *msg}, nil
}

func (s *Service) WatchEvents(req *WatchRequest, stream EventStream) error {
	ch, unsub := s.bus.Subscribe("", watchBuffer)
	defer unsub()

	ctx := stream.Context()
	for {
		select {
		case evt := <-ch:
			if !matches(evt.Kind, req.Namespaces) {
				continue
			}
			out := &Event{
				ID:        uuid.NewString(),
				Kind:      evt.Kind,
				Timestamp: evt.Timestamp,
			}
			if evt.Payload != nil {
				data, err := json.Marshal(evt.Payload)
				if err != nil {
					s.logger.Warn("event payload not encodable", zap.String("kind", evt.Kind), zap.Error(err))
				} else {
					out.Payload = data
				}
			}
			if err := stream.Send(out); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func matches(kind string, namespaces []string) bool {
	if len(namespaces) == 0 {
		return true
	}
	for _, ns := range namespaces {
		if strings.HasPrefix(kind, ns) {
			return true
		}
	}
	return false
}

// toStatus maps domain errors to gRPC status codes.
func toStatus(op string, err error) error {
	var re *rest.RequestError
	switch {
	case errors.Is(err, model.ErrEmptyMessage),
		errors.Is(err, realtime.ErrNoContact),
		errors.Is(err, session.ErrEmptyUpdate):
		return grpcstatus.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, realtime.ErrNoSession),
		errors.Is(err, session.ErrNotAuthenticated),
		errors.Is(err, session.ErrCredentialExpired),
		errors.Is(err, rest.ErrNoCredential),
		errors.Is(err, rest.ErrNotVerified):
		return grpcstatus.Errorf(codes.Unauthenticated, "%s: %v", op, err)
	case errors.Is(err, realtime.ErrStaleHistory),
		errors.Is(err, realtime.ErrSessionChanged),
		errors.Is(err, session.ErrSuperseded):
		return grpcstatus.Errorf(codes.Aborted, "%s: %v", op, err)
	case errors.As(err, &re):
		if re.Status == http.StatusUnauthorized {
			return grpcstatus.Errorf(codes.Unauthenticated, "%s: %s", op, re.Message)
		}
		return grpcstatus.Errorf(codes.FailedPrecondition, "%s: %s", op, re.Message)
	default:
		return grpcstatus.Errorf(codes.Internal, "%s: %v", op, err)
	}
}
