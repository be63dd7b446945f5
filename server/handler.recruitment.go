package server

import (
	"encoding/json"
	"errors"
	"mime"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/tywin1104/crew-gatekeeper/db"
	"github.com/tywin1104/crew-gatekeeper/relay"
	"github.com/tywin1104/crew-gatekeeper/server/auth"
	"github.com/tywin1104/crew-gatekeeper/types"
)

const maxFormBytes = 64 << 10

type recruitmentRequest struct {
	types.ApplicationForm
	RecaptchaToken string `json:"recaptchaToken"`
}

func parseRecruitment(r *http.Request) (recruitmentRequest, error) {
	var req recruitmentRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		err := json.NewDecoder(r.Body).Decode(&req)
		return req, err
	}
	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.Name = r.PostForm.Get("name")
	req.Age = r.PostForm.Get("age")
	req.PlayerID = r.PostForm.Get("playerID")
	req.Experience = r.PostForm.Get("require")
	req.Reason = r.PostForm.Get("reason")
	req.RecaptchaToken = r.PostForm.Get("g-recaptcha-response")
	if req.RecaptchaToken == "" {
		req.RecaptchaToken = r.PostForm.Get("recaptchaToken")
	}
	return req, nil
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	msg := map[string]interface{}{"message": message}
	json.NewEncoder(w).Encode(msg)
}

// handleSubmit accepts the recruitment form of the logged in user and relays
// it to staff
func (svc *Service) handleSubmit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := svc.logger
		user, ok := auth.ApplicantFromRequest(r)
		if !ok {
			svc.unauthorized(w, r, "")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
		req, err := parseRecruitment(r)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "Unable to read the application form")
			return
		}

		if svc.recaptcha != nil {
			passed, err := svc.recaptcha(remoteIP(r), req.RecaptchaToken)
			if err != nil {
				log.WithFields(logrus.Fields{
					"err":    err.Error(),
					"userID": user.ID,
				}).Warn("Unable to verify recaptcha")
			}
			if req.RecaptchaToken == "" || !passed {
				writeMessage(w, http.StatusForbidden, "Please complete the captcha")
				return
			}
		}

		sub, err := svc.relay.Submit(r.Context(), user, req.ApplicationForm)
		switch {
		case errors.Is(err, relay.ErrInvalidForm):
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, db.ErrPendingExists):
			writeMessage(w, http.StatusConflict, "There is a pending application associated with this account. "+
				"You can not submit another one until staff has reviewed it")
			return
		case err != nil:
			log.WithFields(logrus.Fields{
				"err":    err.Error(),
				"userID": user.ID,
			}).Error("Unable to relay application")
			writeMessage(w, http.StatusInternalServerError, "Something went wrong, please try again later")
			return
		}

		log.WithFields(logrus.Fields{
			"submissionID": sub.ID,
			"userID":       user.ID,
		}).Info("Application received")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Done!"))
	}
}
