package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appNegotiation "github.com/agrimarket/bargaining-hub/internal/application/negotiation"
	"github.com/agrimarket/bargaining-hub/internal/domain/negotiation"
)

type createNegotiationRequest struct {
	FarmerID       uuid.UUID       `json:"farmerId"`
	CropID         *uuid.UUID      `json:"cropId"`
	InitialPrice   decimal.Decimal `json:"initialPrice"`
	OfferPrice     decimal.Decimal `json:"offerPrice"`
	Quantity       int             `json:"quantity"`
	ClientActionID *string         `json:"clientActionId"`
}

type proposeRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	IsCounter      bool            `json:"isCounter"`
	ClientActionID *string         `json:"clientActionId"`
}

type acceptRequest struct {
	FinalPrice     *decimal.Decimal `json:"finalPrice"`
	ClientActionID *string          `json:"clientActionId"`
}

type actionRequest struct {
	ClientActionID *string `json:"clientActionId"`
}

type messageRequest struct {
	Text           string  `json:"text"`
	ClientActionID *string `json:"clientActionId"`
}

func (s *Server) createNegotiation(w http.ResponseWriter, r *http.Request) {
	c := callerFromContext(r.Context())
	var req createNegotiationRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.FarmerID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "farmerId is required")
		return
	}
	res, err := s.negotiationSvc.Start(r.Context(), negotiation.StartInput{
		BuyerID:        c.UserID,
		FarmerID:       req.FarmerID,
		CropID:         req.CropID,
		InitialPrice:   req.InitialPrice,
		OfferPrice:     req.OfferPrice,
		Quantity:       req.Quantity,
		ClientActionID: clientActionID(r, req.ClientActionID),
	})
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	respondJSON(w, status, res)
}

func (s *Server) listNegotiations(w http.ResponseWriter, r *http.Request) {
	c := callerFromContext(r.Context())
	role := c.Role
	if v := r.URL.Query().Get("role"); v != "" {
		parsed, ok := parseRole(v)
		if !ok {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "role must be buyer or farmer")
			return
		}
		role = parsed
	}
	list, err := s.negotiationSvc.ListForUser(r.Context(), c.UserID, role)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": list})
}

func (s *Server) getNegotiation(w http.ResponseWriter, r *http.Request) {
	id, ok := negotiationParam(w, r)
	if !ok {
		return
	}
	n, err := s.negotiationSvc.Get(r.Context(), id, callerFromContext(r.Context()).UserID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := negotiationParam(w, r)
	if !ok {
		return
	}
	log, err := s.negotiationSvc.ListMessages(r.Context(), id, callerFromContext(r.Context()).UserID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": log})
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := negotiationParam(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	msg, err := s.negotiationSvc.SendMessage(r.Context(), appNegotiation.MessageInput{
		NegotiationID:  id,
		CallerID:       callerFromContext(r.Context()).UserID,
		Text:           req.Text,
		ClientActionID: clientActionID(r, req.ClientActionID),
	})
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) propose(w http.ResponseWriter, r *http.Request) {
	id, ok := negotiationParam(w, r)
	if !ok {
		return
	}
	var req proposeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	res, err := s.negotiationSvc.Propose(r.Context(), appNegotiation.ProposeInput{
		NegotiationID:  id,
		CallerID:       callerFromContext(r.Context()).UserID,
		Amount:         req.Amount,
		IsCounter:      req.IsCounter,
		ClientActionID: clientActionID(r, req.ClientActionID),
	})
	s.respondResult(w, r, res, err)
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) {
	id, ok := negotiationParam(w, r)
	if !ok {
		return
	}
	var req acceptRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	res, err := s.negotiationSvc.Accept(r.Context(), appNegotiation.AcceptInput{
		NegotiationID:  id,
		CallerID:       callerFromContext(r.Context()).UserID,
		FinalPrice:     req.FinalPrice,
		ClientActionID: clientActionID(r, req.ClientActionID),
	})
	s.respondResult(w, r, res, err)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	in, ok := s.actionInput(w, r)
	if !ok {
		return
	}
	res, err := s.negotiationSvc.Reject(r.Context(), in)
	s.respondResult(w, r, res, err)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	in, ok := s.actionInput(w, r)
	if !ok {
		return
	}
	res, err := s.negotiationSvc.Cancel(r.Context(), in)
	s.respondResult(w, r, res, err)
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	id, ok := negotiationParam(w, r)
	if !ok {
		return
	}
	marked, err := s.negotiationSvc.MarkRead(r.Context(), id, callerFromContext(r.Context()).UserID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"marked": marked})
}

// reconcile is open to either party; it only ever rewrites the header to
// what the log already says.
func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := negotiationParam(w, r)
	if !ok {
		return
	}
	if _, err := s.negotiationSvc.Get(r.Context(), id, callerFromContext(r.Context()).UserID); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	res, err := s.negotiationSvc.Reconcile(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) actionInput(w http.ResponseWriter, r *http.Request) (appNegotiation.ActionInput, bool) {
	id, ok := negotiationParam(w, r)
	if !ok {
		return appNegotiation.ActionInput{}, false
	}
	var req actionRequest
	if !decodeOptionalBody(w, r, &req) {
		return appNegotiation.ActionInput{}, false
	}
	return appNegotiation.ActionInput{
		NegotiationID:  id,
		CallerID:       callerFromContext(r.Context()).UserID,
		ClientActionID: clientActionID(r, req.ClientActionID),
	}, true
}

func (s *Server) respondResult(w http.ResponseWriter, r *http.Request, res *appNegotiation.Result, err error) {
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func negotiationParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid negotiation id")
		return uuid.Nil, false
	}
	return id, true
}

// decodeOptionalBody accepts an empty body for actions whose fields are all
// optional.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := decodeBody(r, v); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return false
	}
	return true
}
