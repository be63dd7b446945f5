package server

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/tywin1104/crew-gatekeeper/db"
	"github.com/tywin1104/crew-gatekeeper/types"
	"github.com/tywin1104/crew-gatekeeper/utils"
)

type decisionPage struct {
	pageData
	Submission types.Submission
	Approve    bool
	Action     string
}

// decisionClaim validates the token of an e-mailed decision link. It writes
// the error response and returns false when the link cannot be used.
func (svc *Service) decisionClaim(w http.ResponseWriter, r *http.Request) (utils.DecisionClaim, types.Decision, bool) {
	log := svc.logger
	if svc.ops == nil {
		writeMessage(w, http.StatusNotFound, "Resource not found")
		return utils.DecisionClaim{}, "", false
	}
	claim, err := utils.DecodeDecisionToken(mux.Vars(r)["token"], svc.c.PassPhrase)
	if err != nil {
		log.WithFields(logrus.Fields{
			"err": err.Error(),
		}).Warn("Unable to decode decision token")
		writeMessage(w, http.StatusBadRequest, "Unable to decode token")
		return utils.DecisionClaim{}, "", false
	}
	if !svc.ops.IsOp(claim.Op) {
		log.WithFields(logrus.Fields{
			"op": claim.Op,
		}).Warn("Decision link used by an unknown op")
		writeMessage(w, http.StatusForbidden, "Not an op")
		return utils.DecisionClaim{}, "", false
	}
	decision, ok := types.ParseDecision(claim.Decision)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Unknown decision")
		return utils.DecisionClaim{}, "", false
	}
	return claim, decision, true
}

// handleDecisionPage asks the op to confirm the decision of an e-mailed link.
// Mail scanners and link previews follow GET links, so nothing changes here.
func (svc *Service) handleDecisionPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claim, decision, ok := svc.decisionClaim(w, r)
		if !ok {
			return
		}
		sub, err := svc.relay.Submission(r.Context(), claim.SubmissionID)
		if errors.Is(err, db.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "Resource not found")
			return
		}
		if err != nil {
			http.Error(w, "Unable to get submission", http.StatusInternalServerError)
			svc.logger.WithFields(logrus.Fields{
				"err":          err.Error(),
				"submissionID": claim.SubmissionID,
			}).Error("Unable to get submission")
			return
		}
		svc.execute(w, "decision", decisionPage{
			Submission: sub,
			Approve:    decision == types.DecisionApprove,
			Action:     r.URL.Path,
		})
	}
}

// handleDecisionLink applies the decision carried by an e-mailed link
func (svc *Service) handleDecisionLink() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claim, decision, ok := svc.decisionClaim(w, r)
		if !ok {
			return
		}
		svc.decide(w, r, claim.SubmissionID, decision, claim.Op)
	}
}
