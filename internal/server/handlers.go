package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tournevent/carrierbridge/internal/booking"
	"github.com/tournevent/carrierbridge/pkg/shipper"
	"go.uber.org/zap"
)

// CodeInvalidRequest reports a body that could not be decoded.
const CodeInvalidRequest = "INVALID_REQUEST"

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type errorResponse struct {
	Error   apiError         `json:"error"`
	Booking *booking.Booking `json:"booking,omitempty"`
}

type shopRatesResponse struct {
	Quotes []shipper.RateQuote `json:"quotes"`
	Errors []apiError          `json:"errors,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleCarriers(w http.ResponseWriter, r *http.Request) {
	carriers := s.service.Carriers()
	if carriers == nil {
		carriers = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"carriers": carriers})
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeShipment(w, r)
	if !ok {
		return
	}
	outcome, err := s.service.Rates(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleShopRates(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeShipment(w, r)
	if !ok {
		return
	}

	var carriers []string
	if q := r.URL.Query().Get("carriers"); q != "" {
		carriers = strings.Split(q, ",")
	}

	quotes, errs := s.service.ShopRates(r.Context(), req, carriers)
	resp := shopRatesResponse{Quotes: quotes}
	if resp.Quotes == nil {
		resp.Quotes = []shipper.RateQuote{}
	}
	for _, err := range errs {
		resp.Errors = append(resp.Errors, toAPIError(err))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeShipment(w, r)
	if !ok {
		return
	}
	b, err := s.service.Book(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err, b)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleBookOrder(w http.ResponseWriter, r *http.Request) {
	b, err := s.service.BookOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeError(w, r, err, b)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	b, err := s.service.Resync(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err, b)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) decodeShipment(w http.ResponseWriter, r *http.Request) (*shipper.ShipmentRequest, bool) {
	var req shipper.ShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: apiError{Code: CodeInvalidRequest, Message: "invalid request body: " + err.Error()},
		})
		return nil, false
	}
	req.SetDefaults()
	return &req, true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, b *booking.Booking) {
	apiErr := toAPIError(err)
	status := statusFor(apiErr.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Ctx(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", apiErr.Code),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorResponse{Error: apiErr, Booking: b})
}

func toAPIError(err error) apiError {
	apiErr := apiError{Code: booking.ErrorCode(err), Message: err.Error()}
	var verr *shipper.ValidationError
	if errors.As(err, &verr) {
		apiErr.Fields = verr.Fields()
	}
	return apiErr
}

func statusFor(code string) int {
	switch code {
	case booking.CodeValidation:
		return http.StatusBadRequest
	case booking.CodeNotFound:
		return http.StatusNotFound
	case booking.CodeAlreadyBooked, booking.CodeOutcomeUnknown, booking.CodeInvalidTransition:
		return http.StatusConflict
	case booking.CodeUnsupportedCarrier:
		return http.StatusUnprocessableEntity
	case booking.CodeNotConfigured:
		return http.StatusNotImplemented
	case booking.CodeCarrierTimeout:
		return http.StatusGatewayTimeout
	case booking.CodeCarrierError, booking.CodeCarrierUnreachable, booking.CodeAuthentication,
		booking.CodeInvalidResponse, booking.CodeSyncFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
