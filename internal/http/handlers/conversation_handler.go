// Conversation HTTP handlers.
//
// This file exposes the operator-facing REST endpoints:
//   - GET  /conversations                     (list, paginated)
//   - GET  /conversations/{id}/messages       (history, paginated)
//   - POST /conversations/{id}/takeover       (operator takes control)
//   - POST /conversations/{id}/handback       (return control to the agent)
//   - POST /conversations/{id}/messages       (send as operator)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/oferrer/wa-gateway/internal/domain"
	"github.com/oferrer/wa-gateway/internal/services"
	"github.com/oferrer/wa-gateway/internal/utils"
)

//
// Service contracts (context-aware)
//

// ConversationService defines the operator-side operations consumed by HTTP
// handlers. Implementations should be safe for concurrent use and must honor
// the provided context for cancellation and timeouts.
type ConversationService interface {
	// ListPage returns a page of conversations ordered by recent activity.
	ListPage(ctx context.Context, page, pageSize int) ([]domain.Conversation, int64, error)
	// MessagesPage returns a page of one conversation's messages.
	MessagesPage(ctx context.Context, conversationID string, page, pageSize int) ([]domain.Message, int64, error)
	// Takeover transfers the conversation to operator control.
	Takeover(ctx context.Context, conversationID string) error
	// HandBack returns the conversation to the agent.
	HandBack(ctx context.Context, conversationID string) error
	// OperatorSend delivers a message to the conversation's user.
	OperatorSend(ctx context.Context, conversationID, operatorName, text string) (*domain.Message, error)
}

//
// Handler wiring
//

// Handlers groups the operator-facing HTTP endpoints.
type Handlers struct {
	convSvc ConversationService
}

// New constructs a Handlers instance bound to the given service.
func New(convSvc ConversationService) *Handlers {
	return &Handlers{convSvc: convSvc}
}

//
// DTOs
//

// OperatorSendRequest is the JSON payload for sending a message as operator.
type OperatorSendRequest struct {
	// Text is the message body delivered to the user.
	Text string `json:"text" binding:"required,min=1,max=4096" example:"Hola, te atiende Sofía del equipo de soporte."`
	// OperatorName labels the message in the conversation history.
	OperatorName string `json:"operator_name" example:"Sofía"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListConversationsResponse wraps a page of conversations.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

// ListMessagesResponse wraps a page of messages.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// paginate builds the metadata block for a page.
func paginate(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// conversationID validates the :id path parameter.
func conversationID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return "", false
	}
	return id, true
}

//
// Handlers
//

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations (paginated)
// @Description Returns a page of conversations ordered by most recent activity.
// @Tags        Conversations
// @Produce     json
//
// @Param       page       query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListConversationsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	page, pageSize := clampPagination(c)

	items, total, err := h.convSvc.ListPage(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: items,
		Pagination:    paginate(page, pageSize, total),
	})
}

// ListConversationMessages godoc
// @ID          listConversationMessages
// @Summary     List a conversation's messages (paginated)
// @Description Returns a page of messages in chronological order.
// @Tags        Conversations
// @Produce     json
//
// @Param       id         path    string  true  "Conversation ID (UUID)"  format(uuid)
// @Param       page       query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query   int     false "Items per page"  minimum(1) maximum(100) default(50)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListConversationMessages(c *gin.Context) {
	id, okID := conversationID(c)
	if !okID {
		return
	}
	page, pageSize := clampPagination(c)

	items, total, err := h.convSvc.MessagesPage(c.Request.Context(), id, page, pageSize)
	if err != nil {
		if errors.Is(err, services.ErrConversationNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: paginate(page, pageSize, total),
	})
}

// TakeoverConversation godoc
// @ID          takeoverConversation
// @Summary     Take over a conversation
// @Description Transfers the conversation to operator control; agent replies are suppressed until hand-back.
// @Tags        Conversations
// @Produce     json
//
// @Param       id  path  string  true  "Conversation ID (UUID)"  format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     409  {object} handlers.ErrorResponse "Already operator-owned"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/takeover [post]
func (h *Handlers) TakeoverConversation(c *gin.Context) {
	id, okID := conversationID(c)
	if !okID {
		return
	}
	if err := h.convSvc.Takeover(c.Request.Context(), id); err != nil {
		failOwnership(c, err)
		return
	}
	noContent(c)
}

// HandBackConversation godoc
// @ID          handBackConversation
// @Summary     Hand a conversation back to the agent
// @Description Returns control to the agent; dispatch resumes with the next inbound message.
// @Tags        Conversations
// @Produce     json
//
// @Param       id  path  string  true  "Conversation ID (UUID)"  format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     409  {object} handlers.ErrorResponse "Already agent-owned"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/handback [post]
func (h *Handlers) HandBackConversation(c *gin.Context) {
	id, okID := conversationID(c)
	if !okID {
		return
	}
	if err := h.convSvc.HandBack(c.Request.Context(), id); err != nil {
		failOwnership(c, err)
		return
	}
	noContent(c)
}

// SendOperatorMessage godoc
// @ID          sendOperatorMessage
// @Summary     Send a message as operator
// @Description Delivers a text message to the conversation's user on behalf of a human operator.
// @Tags        Conversations
// @Accept      json
// @Produce     json
//
// @Param       id    path  string                         true  "Conversation ID (UUID)"  format(uuid)
// @Param       body  body  handlers.OperatorSendRequest  true  "Message payload"
//
// @Success     201  {object} domain.Message
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     502  {object} handlers.ErrorResponse "Provider send failed"
// @Router      /conversations/{id}/messages [post]
func (h *Handlers) SendOperatorMessage(c *gin.Context) {
	id, okID := conversationID(c)
	if !okID {
		return
	}

	var req OperatorSendRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required (1–4096 chars)")
		return
	}

	msg, err := h.convSvc.OperatorSend(c.Request.Context(), id, strings.TrimSpace(req.OperatorName), req.Text)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrConversationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		case errors.Is(err, services.ErrEmptyText):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		default:
			fail(c, http.StatusBadGateway, ErrCodeSendFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, msg)
}

// failOwnership maps ownership-transition errors to HTTP responses.
func failOwnership(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrConversationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
	case errors.Is(err, services.ErrAlreadyOwned):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
