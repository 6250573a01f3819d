package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"go.uber.org/zap"

	"github.com/wormhole-demo/portal-transfer/internal"
	"github.com/wormhole-demo/portal-transfer/internal/store"
)

type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	ID      string      `json:"id,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type TransferBody struct {
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	Sender    string `json:"sender,omitempty"`
	Recipient string `json:"recipient"`
	Label     string `json:"label,omitempty"`
}

func responseJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func responseError(w http.ResponseWriter, message string, code int) {
	responseJSON(w, &APIResponse{Status: "error", Message: message}, code)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	responseJSON(w, &APIResponse{Status: "ok"}, http.StatusOK)
}

func (s *Server) startTransfer(direction internal.Direction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body TransferBody
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
			responseError(w, "Cannot unmarshal input JSON", http.StatusBadRequest)
			return
		}

		req, err := s.runner.NewRequest(direction, body.Asset, body.Amount, body.Sender, body.Recipient, body.Label)
		if err != nil {
			responseError(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Recorded before enqueueing so that the ID resolves immediately.
		if err := s.store.Record(r.Context(), internal.Snapshot{
			TransferID: req.ID,
			Direction:  direction,
			State:      internal.StageValidating,
			Request:    req,
			UpdatedAt:  time.Now().UTC(),
		}); err != nil {
			s.logger.Warn("Failed to record accepted transfer", zap.String("transferId", req.ID), zap.Error(err))
		}

		if err := s.runner.Enqueue(r.Context(), internal.Job{Direction: direction, Request: &req}); err != nil {
			s.logger.Error("Failed to enqueue transfer", zap.String("transferId", req.ID), zap.Error(err))
			responseError(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		s.logger.Info("Transfer accepted",
			zap.String("transferId", req.ID),
			zap.String("direction", string(direction)))
		responseJSON(w, &APIResponse{Status: "accepted", ID: req.ID}, http.StatusAccepted)
	}
}

func (s *Server) getTransfer(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.store.Load(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		responseError(w, "transfer not found", http.StatusNotFound)
		return
	}
	if err != nil {
		responseError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	responseJSON(w, snapshot, http.StatusOK)
}

func (s *Server) listTransfers(w http.ResponseWriter, r *http.Request) {
	snapshots, err := s.store.List(r.Context(), internal.Stage(r.URL.Query().Get("state")))
	if err != nil {
		responseError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	responseJSON(w, snapshots, http.StatusOK)
}

func (s *Server) resumeTransfer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snapshot, err := s.store.Load(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		responseError(w, "transfer not found", http.StatusNotFound)
		return
	}
	if err != nil {
		responseError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if snapshot.State == internal.StageCompleted {
		responseJSON(w, &APIResponse{Status: "completed", ID: id, Data: snapshot.Result()}, http.StatusOK)
		return
	}
	if snapshot.State != internal.StageFailed {
		responseError(w, "transfer is still in progress", http.StatusConflict)
		return
	}
	if err := internal.CheckResumable(snapshot); err != nil {
		responseError(w, err.Error(), http.StatusConflict)
		return
	}

	if err := s.runner.Enqueue(r.Context(), internal.Job{Direction: snapshot.Direction, Snapshot: &snapshot}); err != nil {
		if errors.Is(err, internal.ErrTransferInFlight) {
			responseError(w, "transfer is already being resumed", http.StatusConflict)
			return
		}
		responseError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.logger.Info("Transfer resume accepted",
		zap.String("transferId", id),
		zap.String("failedStage", string(snapshot.FailedStage)))
	responseJSON(w, &APIResponse{Status: "accepted", ID: id}, http.StatusAccepted)
}
