package api

import (
	"log/slog"
	"net/http"

	"github.com/BTreeMap/PortfolioChat/internal/conversation"
	"github.com/BTreeMap/PortfolioChat/internal/models"
)

// OpenConversationRequest is the optional body of POST /chat/conversations.
type OpenConversationRequest struct {
	Seed string `json:"seed,omitempty"`
}

// SubmitMessageRequest is the body of POST /chat/conversations/{id}/messages.
type SubmitMessageRequest struct {
	Text string `json:"text"`
}

// openConversationHandler handles POST /chat/conversations
func (s *Server) openConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req OpenConversationRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, "openConversationHandler", err)
		return
	}
	c, err := s.manager.Open(req.Seed)
	if err != nil {
		writeError(w, "openConversationHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(c.Snapshot()))
}

// listConversationsHandler handles GET /chat/conversations
func (s *Server) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.manager.List()))
}

// getConversationHandler handles GET /chat/conversations/{id}
func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	c, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, "getConversationHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(c.Snapshot()))
}

// submitMessageHandler handles POST /chat/conversations/{id}/messages. The
// reply arrives later; clients poll the snapshot or watch the websocket.
func (s *Server) submitMessageHandler(w http.ResponseWriter, r *http.Request) {
	c, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, "submitMessageHandler", err)
		return
	}
	var req SubmitMessageRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, "submitMessageHandler", err)
		return
	}
	if err := c.Submit(req.Text); err != nil {
		writeError(w, "submitMessageHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusAccepted, models.Success(c.Snapshot()))
}

// closeConversationHandler handles DELETE /chat/conversations/{id} and
// returns the final transcript. The conversation is closed even when
// archiving fails.
func (s *Server) closeConversationHandler(w http.ResponseWriter, r *http.Request) {
	t, err := s.manager.Close(r.Context(), r.PathValue("id"), conversation.CloseReasonVisitor)
	if statusForError(err) == http.StatusNotFound {
		writeError(w, "closeConversationHandler", err)
		return
	}
	if err != nil {
		slog.Warn("Server.closeConversationHandler: closed but not archived", "id", t.ConversationID, "error", err)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation closed; transcript was not archived", t))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(t))
}
