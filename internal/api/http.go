package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/invreserve/engine/internal/engine"
	"github.com/invreserve/engine/internal/rerr"
)

type Server struct {
	eng *engine.Engine
	mux *http.ServeMux
}

type contextKey string

const requestIDKey contextKey = "req_id"

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = xid.New().String()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func NewServer(eng *engine.Engine) *Server {
	s := &Server{eng: eng, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return withRequestID(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.mux.HandleFunc("/v1/reservations/reserve", s.handleReserve)
	s.mux.HandleFunc("/v1/reservations/extend", s.handleExtend)
	s.mux.HandleFunc("/v1/reservations/commit", s.handleCommit)
	s.mux.HandleFunc("/v1/reservations/release", s.handleRelease)
	s.mux.HandleFunc("/v1/skus/", s.handleSKU)
}

// --- reserve / extend / commit / release ---

type reserveReq struct {
	SKU    string `json:"sku"`
	CartID string `json:"cart_id"`
	Qty    int64  `json:"qty"`
	TTLMS  int64  `json:"ttl_ms"`
}

type reserveResp struct {
	HoldID         string `json:"hold_id"`
	Idempotent     bool   `json:"idempotent"`
	ExpiresAtMS    int64  `json:"expires_at_ms"`
	AvailableAfter int64  `json:"available_after"`
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req reserveReq
	if err := readJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.eng.Reserve(r.Context(), engine.ReserveRequest{
		SKU: req.SKU, CartID: req.CartID, Qty: req.Qty,
		TTL: time.Duration(req.TTLMS) * time.Millisecond,
	})
	if err != nil {
		writeEngineErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reserveResp{
		HoldID: res.HoldID, Idempotent: res.Idempotent,
		ExpiresAtMS: res.ExpiresAt.UnixMilli(), AvailableAfter: res.AvailableAfter,
	})
}

type extendReq struct {
	SKU        string `json:"sku"`
	CartID     string `json:"cart_id"`
	ExtendByMS int64  `json:"extend_by_ms"`
}

type extendResp struct {
	NewExpiresAtMS int64 `json:"new_expires_at_ms"`
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req extendReq
	if err := readJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.eng.Extend(r.Context(), engine.ExtendRequest{
		SKU: req.SKU, CartID: req.CartID,
		ExtendBy: time.Duration(req.ExtendByMS) * time.Millisecond,
	})
	if err != nil {
		writeEngineErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, extendResp{NewExpiresAtMS: res.NewExpiresAt.UnixMilli()})
}

type commitReq struct {
	SKU    string `json:"sku"`
	CartID string `json:"cart_id"`
	Qty    int64  `json:"qty"`
}

type commitResp struct {
	ConsumedQty int64 `json:"consumed_qty"`
	NewTotal    int64 `json:"new_total"`
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req commitReq
	if err := readJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.eng.Commit(r.Context(), engine.CommitRequest{SKU: req.SKU, CartID: req.CartID, Qty: req.Qty})
	if err != nil {
		writeEngineErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commitResp{ConsumedQty: res.ConsumedQty, NewTotal: res.NewTotal})
}

type releaseReq struct {
	SKU    string `json:"sku"`
	CartID string `json:"cart_id"`
	Reason string `json:"reason"`
}

type releaseResp struct {
	Absent      bool  `json:"absent"`
	ReleasedQty int64 `json:"released_qty"`
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req releaseReq
	if err := readJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.eng.Release(r.Context(), engine.ReleaseRequest{SKU: req.SKU, CartID: req.CartID, Reason: req.Reason})
	if err != nil {
		writeEngineErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, releaseResp{Absent: res.Absent, ReleasedQty: res.ReleasedQty})
}

// --- /v1/skus/{sku}[/events] ---

type snapshotResp struct {
	SKU       string `json:"sku"`
	Total     int64  `json:"total"`
	Reserved  int64  `json:"reserved"`
	Available int64  `json:"available"`
}

type eventResp struct {
	ID     string `json:"id"`
	AtMS   int64  `json:"at_ms"`
	Kind   string `json:"kind"`
	SKU    string `json:"sku"`
	CartID string `json:"cart_id"`
	Qty    int64  `json:"qty"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleSKU(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/skus/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeErr(w, http.StatusBadRequest, "sku required")
		return
	}
	parts := strings.SplitN(path, "/", 2)
	sku := parts[0]

	if len(parts) == 2 && parts[1] == "events" {
		s.handleEvents(w, r, sku)
		return
	}
	if len(parts) > 1 {
		writeErr(w, http.StatusNotFound, "invalid path")
		return
	}

	snap, err := s.eng.Snapshot(r.Context(), sku)
	if err != nil {
		writeEngineErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResp{
		SKU: sku, Total: snap.Total, Reserved: snap.Reserved, Available: snap.Available,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, sku string) {
	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	ascending := r.URL.Query().Get("order") == "asc"

	evs, err := s.eng.Events(r.Context(), limit, ascending)
	if err != nil {
		writeEngineErr(w, err)
		return
	}
	out := make([]eventResp, 0, len(evs))
	for _, ev := range evs {
		if ev.SKU != sku {
			continue
		}
		out = append(out, eventResp{
			ID: ev.ID, AtMS: ev.At.UnixMilli(), Kind: ev.Kind,
			SKU: ev.SKU, CartID: ev.CartID, Qty: ev.Qty, Reason: ev.Reason,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// --- helpers ---

func readJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errors.New("missing body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeEngineErr(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *rerr.BadRequestError:
		writeErr(w, http.StatusBadRequest, e.Error())
	case *rerr.InsufficientError:
		writeErr(w, http.StatusConflict, e.Error())
	case *rerr.ConflictError:
		writeErr(w, http.StatusConflict, e.Error())
	case *rerr.NotFoundError:
		writeErr(w, http.StatusNotFound, e.Error())
	case *rerr.UnavailableError:
		writeErr(w, http.StatusServiceUnavailable, e.Error())
	default:
		writeErr(w, http.StatusInternalServerError, err.Error())
	}
}
