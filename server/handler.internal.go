package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/tywin1104/crew-gatekeeper/db"
	"github.com/tywin1104/crew-gatekeeper/types"
)

type decisionRequest struct {
	Decision string `json:"decision"`
}

func (svc *Service) handleGetSubmissions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := svc.logger
		status := r.URL.Query().Get("status")
		switch status {
		case "", types.StatusPending, types.StatusApproved, types.StatusRejected:
		default:
			writeMessage(w, http.StatusBadRequest, "Unknown status")
			return
		}
		submissions, err := svc.relay.List(r.Context(), status)
		if err != nil {
			http.Error(w, "Unable to get submissions", http.StatusInternalServerError)
			log.WithFields(logrus.Fields{
				"err": err.Error(),
			}).Error("Unable to get submissions")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		msg := map[string]interface{}{"submissions": submissions}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(msg)
	}
}

func (svc *Service) handleGetSubmission() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := svc.logger
		id := mux.Vars(r)["id"]
		sub, err := svc.relay.Submission(r.Context(), id)
		if errors.Is(err, db.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "Resource not found")
			return
		}
		if err != nil {
			http.Error(w, "Unable to get submission", http.StatusInternalServerError)
			log.WithFields(logrus.Fields{
				"err":          err.Error(),
				"submissionID": id,
			}).Error("Unable to get submission")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		msg := map[string]interface{}{"submission": sub}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(msg)
	}
}

// handleDecideSubmission applies an admin decision to a pending submission
func (svc *Service) handleDecideSubmission() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		var req decisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "Unable to read request body")
			return
		}
		decision, ok := types.ParseDecision(req.Decision)
		if !ok {
			writeMessage(w, http.StatusBadRequest, "Unknown decision")
			return
		}
		svc.decide(w, r, id, decision, adminName(r))
	}
}

// decide runs a decision through the relay and writes the outcome
func (svc *Service) decide(w http.ResponseWriter, r *http.Request, id string, decision types.Decision, staff string) {
	log := svc.logger
	sub, applied, err := svc.relay.Decide(r.Context(), id, decision, staff)
	if errors.Is(err, db.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "Resource not found")
		return
	}
	if err != nil {
		log.WithFields(logrus.Fields{
			"err":          err.Error(),
			"submissionID": id,
			"staff":        staff,
		}).Error("Unable to apply decision")
		writeMessage(w, http.StatusInternalServerError, "Unable to apply decision")
		return
	}
	if !applied {
		writeMessage(w, http.StatusConflict, "The target submission is already closed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	msg := map[string]interface{}{"message": "success", "updated": sub}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(msg)
}
