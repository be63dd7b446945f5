package server

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// HandleGetAggregateStats returns aggregate workflow stats for the staff dashboard
func (svc *Service) HandleGetAggregateStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := svc.logger
		stats, err := svc.relay.Stats(r.Context())
		if err != nil {
			log.WithFields(logrus.Fields{
				"err": err.Error(),
			}).Error("Unable to get aggregate stats")
			http.Error(w, "Unable to get aggregate stats", http.StatusInternalServerError)
			return
		}
		msg := map[string]interface{}{"stats": stats}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(msg)
	}
}
