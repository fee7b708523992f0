package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"labgrid/native/reservation"
)

// Server exposes the reservation engine over HTTP.
type Server struct {
	engine  *reservation.Engine
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewServer wires the engine behind the HTTP surface. logger may be nil.
func NewServer(engine *reservation.Engine, auth *Authenticator, limiter *RateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, auth: auth, limiter: limiter, logger: logger}
}

// Handler builds the chi route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(v1 chi.Router) {
		if s.auth != nil {
			v1.Use(s.auth.Middleware)
		}
		v1.Post("/reservations", s.handleRequest)
		v1.Post("/reservations/confirm", s.handleConfirm)
		v1.Post("/reservations/deny", s.handleDeny)
		v1.Post("/reservations/cancel", s.handleCancel)
		v1.Post("/reservations/in-use", s.handleMarkInUse)
		v1.Post("/reservations/complete", s.handleComplete)
		v1.Post("/reservations/release", s.handleRelease)
		v1.Post("/reservations/collect", s.handleCollect)

		v1.Get("/labs/{lab}/reservations", s.handleListReservations)
		v1.Get("/labs/{lab}/availability", s.handleAvailability)
		v1.Get("/labs/{lab}/activity", s.handleActivity)
		v1.Get("/labs/{lab}/users/{address}", s.handleUserReservations)
		v1.Get("/payouts/{address}", s.handlePendingPayout)
	})
	return r
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("starting reservation API", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, payload *requestPayload) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	if payload.Lab == "" {
		writeError(w, http.StatusBadRequest, "lab is required")
		return false
	}
	return true
}

// caller resolves the acting address: the authenticated token subject when
// auth is enabled, the payload's caller field otherwise.
func (s *Server) caller(w http.ResponseWriter, r *http.Request, payload *requestPayload) ([20]byte, bool) {
	if s.auth != nil && s.auth.Enabled() {
		caller, ok := callerFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing authenticated caller")
			return [20]byte{}, false
		}
		return caller, true
	}
	caller, err := parseAddress(payload.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return [20]byte{}, false
	}
	return caller, true
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, reservation.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, reservation.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, reservation.ErrInvalidWindow),
		errors.Is(err, reservation.ErrBatchLimit),
		errors.Is(err, reservation.ErrInvalidUserRef),
		errors.Is(err, reservation.ErrLabNotListed),
		errors.Is(err, reservation.ErrInstitutionNotRegistered),
		errors.Is(err, reservation.ErrInsufficientStake):
		status = http.StatusBadRequest
	case errors.Is(err, reservation.ErrSlotOccupied),
		errors.Is(err, reservation.ErrOverlap),
		errors.Is(err, reservation.ErrNotPending),
		errors.Is(err, reservation.ErrNotActive),
		errors.Is(err, reservation.ErrTerminalStatus),
		errors.Is(err, reservation.ErrMaxReservationsReached):
		status = http.StatusConflict
	}
	writeError(w, status, err.Error())
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var payload requestPayload
	if !s.decode(w, r, &payload) {
		return
	}
	price, ok := parsePrice(payload.Price)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid price")
		return
	}
	var (
		res *reservation.Reservation
		err error
	)
	if payload.Institution != "" {
		institution, addrErr := parseAddress(payload.Institution)
		if addrErr != nil {
			writeError(w, http.StatusBadRequest, "invalid institution address")
			return
		}
		collector, addrErr := parseAddress(payload.Collector)
		if addrErr != nil {
			writeError(w, http.StatusBadRequest, "invalid collector address")
			return
		}
		res, err = s.engine.RequestInstitutionalReservation(payload.Lab, institution, collector,
			[]byte(payload.UserRef), payload.Start, payload.End, price, payload.PeriodStart, payload.PeriodDur)
	} else {
		renter, addrErr := parseAddress(payload.Renter)
		if addrErr != nil {
			writeError(w, http.StatusBadRequest, "invalid renter address")
			return
		}
		res, err = s.engine.RequestReservation(payload.Lab, renter, payload.Start, payload.End, price)
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newReservationView(res))
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var payload requestPayload
	if !s.decode(w, r, &payload) {
		return
	}
	caller, ok := s.caller(w, r, &payload)
	if !ok {
		return
	}
	var (
		res *reservation.Reservation
		err error
	)
	if payload.UserRef != "" {
		res, err = s.engine.ConfirmInstitutionalReservation(payload.Lab, payload.Start, caller, []byte(payload.UserRef))
	} else {
		res, err = s.engine.ConfirmReservation(payload.Lab, payload.Start, caller)
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReservationView(res))
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	var payload requestPayload
	if !s.decode(w, r, &payload) {
		return
	}
	caller, ok := s.caller(w, r, &payload)
	if !ok {
		return
	}
	res, err := s.engine.DenyReservation(payload.Lab, payload.Start, caller)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReservationView(res))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var payload requestPayload
	if !s.decode(w, r, &payload) {
		return
	}
	caller, ok := s.caller(w, r, &payload)
	if !ok {
		return
	}
	var (
		res *reservation.Reservation
		err error
	)
	if payload.UserRef != "" {
		res, err = s.engine.CancelInstitutionalReservation(payload.Lab, payload.Start, caller, []byte(payload.UserRef))
	} else {
		res, err = s.engine.CancelReservation(payload.Lab, payload.Start, caller)
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReservationView(res))
}

func (s *Server) handleMarkInUse(w http.ResponseWriter, r *http.Request) {
	var payload requestPayload
	if !s.decode(w, r, &payload) {
		return
	}
	caller, ok := s.caller(w, r, &payload)
	if !ok {
		return
	}
	res, err := s.engine.MarkInUse(payload.Lab, payload.Start, caller)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReservationView(res))
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var payload requestPayload
	if !s.decode(w, r, &payload) {
		return
	}
	caller, ok := s.caller(w, r, &payload)
	if !ok {
		return
	}
	res, err := s.engine.MarkCompleted(payload.Lab, payload.Start, caller)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReservationView(res))
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var payload requestPayload
	if !s.decode(w, r, &payload) {
		return
	}
	caller, ok := s.caller(w, r, &payload)
	if !ok {
		return
	}
	var (
		processed int
		err       error
	)
	if payload.Institution != "" {
		institution, addrErr := parseAddress(payload.Institution)
		if addrErr != nil {
			writeError(w, http.StatusBadRequest, "invalid institution address")
			return
		}
		processed, err = s.engine.ReleaseExpiredInstitutional(payload.Lab, institution, []byte(payload.UserRef), caller, payload.MaxBatch)
	} else {
		renter, addrErr := parseAddress(payload.Renter)
		if addrErr != nil {
			writeError(w, http.StatusBadRequest, "invalid renter address")
			return
		}
		processed, err = s.engine.ReleaseExpired(payload.Lab, renter, caller, payload.MaxBatch)
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, releaseResult{Processed: processed})
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	var payload requestPayload
	if !s.decode(w, r, &payload) {
		return
	}
	processed, err := s.engine.CollectDue(payload.Lab, payload.MaxBatch)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, releaseResult{Processed: processed})
}

func (s *Server) handleListReservations(w http.ResponseWriter, r *http.Request) {
	lab := chi.URLParam(r, "lab")
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	page, err := s.engine.ReservationsByLab(lab, offset, limit)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	views := make([]*reservationView, 0, len(page))
	for _, res := range page {
		views = append(views, newReservationView(res))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	lab := chi.URLParam(r, "lab")
	start, err1 := strconv.ParseInt(r.URL.Query().Get("start"), 10, 64)
	end, err2 := strconv.ParseInt(r.URL.Query().Get("end"), 10, 64)
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "start and end are required")
		return
	}
	available, err := s.engine.IsAvailable(lab, start, end)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": available})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	lab := chi.URLParam(r, "lab")
	past, upcoming, err := s.engine.RecentActivity(lab)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]activityView{
		"past":     newActivityViews(past),
		"upcoming": newActivityViews(upcoming),
	})
}

func (s *Server) handleUserReservations(w http.ResponseWriter, r *http.Request) {
	lab := chi.URLParam(r, "lab")
	renter, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	keys, active, qErr := s.engine.UserReservations(lab, renter)
	if qErr != nil {
		s.writeEngineError(w, qErr)
		return
	}
	nextStart, hasNext, _ := s.engine.NextActiveStart(lab, renter)
	encoded := make([]string, 0, len(keys))
	for _, key := range keys {
		encoded = append(encoded, hexKey(key))
	}
	result := map[string]interface{}{
		"keys":        encoded,
		"activeCount": active,
	}
	if hasNext {
		result["nextActiveStart"] = nextStart
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePendingPayout(w http.ResponseWriter, r *http.Request) {
	beneficiary, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	pending, qErr := s.engine.PendingPayout(beneficiary)
	if qErr != nil {
		s.writeEngineError(w, qErr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pending": pending.String()})
}
