package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/oferrer/wa-gateway/internal/domain"
	"github.com/oferrer/wa-gateway/internal/services"
)

// stubConvSvc is a scriptable ConversationService.
type stubConvSvc struct {
	listPage     func(ctx context.Context, page, pageSize int) ([]domain.Conversation, int64, error)
	messagesPage func(ctx context.Context, id string, page, pageSize int) ([]domain.Message, int64, error)
	takeover     func(ctx context.Context, id string) error
	handBack     func(ctx context.Context, id string) error
	operatorSend func(ctx context.Context, id, name, text string) (*domain.Message, error)
}

func (s *stubConvSvc) ListPage(ctx context.Context, page, pageSize int) ([]domain.Conversation, int64, error) {
	return s.listPage(ctx, page, pageSize)
}

func (s *stubConvSvc) MessagesPage(ctx context.Context, id string, page, pageSize int) ([]domain.Message, int64, error) {
	return s.messagesPage(ctx, id, page, pageSize)
}

func (s *stubConvSvc) Takeover(ctx context.Context, id string) error { return s.takeover(ctx, id) }
func (s *stubConvSvc) HandBack(ctx context.Context, id string) error { return s.handBack(ctx, id) }

func (s *stubConvSvc) OperatorSend(ctx context.Context, id, name, text string) (*domain.Message, error) {
	return s.operatorSend(ctx, id, name, text)
}

func newAdminRouter(svc ConversationService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := New(svc)
	r.GET("/conversations", h.ListConversations)
	r.GET("/conversations/:id/messages", h.ListConversationMessages)
	r.POST("/conversations/:id/takeover", h.TakeoverConversation)
	r.POST("/conversations/:id/handback", h.HandBackConversation)
	r.POST("/conversations/:id/messages", h.SendOperatorMessage)
	return r
}

func TestListConversations_PaginationEnvelope(t *testing.T) {
	svc := &stubConvSvc{
		listPage: func(_ context.Context, page, pageSize int) ([]domain.Conversation, int64, error) {
			if page != 2 || pageSize != 10 {
				t.Errorf("page=%d pageSize=%d", page, pageSize)
			}
			return []domain.Conversation{{ID: "c1"}}, 21, nil
		},
	}
	r := newAdminRouter(svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/conversations?page=2&page_size=10", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}

	var resp ListConversationsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Pagination.TotalPages != 3 || !resp.Pagination.HasNext {
		t.Fatalf("pagination = %+v", resp.Pagination)
	}
}

func TestListConversationMessages_NotFound(t *testing.T) {
	svc := &stubConvSvc{
		messagesPage: func(context.Context, string, int, int) ([]domain.Message, int64, error) {
			return nil, 0, services.ErrConversationNotFound
		},
	}
	r := newAdminRouter(svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/conversations/"+uuid.NewString()+"/messages", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestTakeover_InvalidID(t *testing.T) {
	r := newAdminRouter(&stubConvSvc{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/conversations/not-a-uuid/takeover", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestTakeover_ConflictWhenAlreadyOwned(t *testing.T) {
	svc := &stubConvSvc{
		takeover: func(context.Context, string) error { return services.ErrAlreadyOwned },
	}
	r := newAdminRouter(svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/conversations/"+uuid.NewString()+"/takeover", nil))
	if w.Code != http.StatusConflict {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestHandBack_NoContent(t *testing.T) {
	var got string
	svc := &stubConvSvc{
		handBack: func(_ context.Context, id string) error { got = id; return nil },
	}
	r := newAdminRouter(svc)

	id := uuid.NewString()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/conversations/"+id+"/handback", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("status=%d", w.Code)
	}
	if got != id {
		t.Fatalf("id = %q", got)
	}
}

func TestSendOperatorMessage(t *testing.T) {
	svc := &stubConvSvc{
		operatorSend: func(_ context.Context, _, name, text string) (*domain.Message, error) {
			if name != "Sofía" || text != "hola" {
				t.Errorf("name=%q text=%q", name, text)
			}
			return &domain.Message{ID: "m1", Content: text, SenderRole: domain.RoleOperator}, nil
		},
	}
	r := newAdminRouter(svc)

	body, _ := json.Marshal(OperatorSendRequest{Text: "hola", OperatorName: "Sofía"})
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+uuid.NewString()+"/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestSendOperatorMessage_Validation(t *testing.T) {
	r := newAdminRouter(&stubConvSvc{})

	req := httptest.NewRequest(http.MethodPost, "/conversations/"+uuid.NewString()+"/messages",
		bytes.NewReader([]byte(`{"text":"   "}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestSendOperatorMessage_ProviderFailure(t *testing.T) {
	svc := &stubConvSvc{
		operatorSend: func(context.Context, string, string, string) (*domain.Message, error) {
			return nil, context.DeadlineExceeded
		},
	}
	r := newAdminRouter(svc)

	body, _ := json.Marshal(OperatorSendRequest{Text: "hola"})
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+uuid.NewString()+"/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status=%d", w.Code)
	}
}
