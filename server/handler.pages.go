package server

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/tywin1104/crew-gatekeeper/server/auth"
	"github.com/tywin1104/crew-gatekeeper/types"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"index", "crew", "infractions", "protocols", "rules", "recruitment", "quiz", "decision"}

var pages = parsePages()

func parsePages() map[string]*template.Template {
	parsed := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		parsed[name] = template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/"+name+".html"))
	}
	return parsed
}

type pageData struct {
	User             types.Applicant
	LoggedIn         bool
	AvatarURL        string
	RecaptchaSiteKey string
}

func (svc *Service) render(w http.ResponseWriter, name string, user types.Applicant, loggedIn bool) {
	data := pageData{
		User:     user,
		LoggedIn: loggedIn,
	}
	if loggedIn {
		data.AvatarURL = user.AvatarURL()
	}
	if svc.recaptcha != nil {
		data.RecaptchaSiteKey = svc.c.RecaptchaSiteKey
	}
	svc.execute(w, name, data)
}

func (svc *Service) execute(w http.ResponseWriter, name string, data interface{}) {
	buffer := new(bytes.Buffer)
	if err := pages[name].ExecuteTemplate(buffer, name+".html", data); err != nil {
		svc.logger.WithFields(logrus.Fields{
			"err":  err.Error(),
			"page": name,
		}).Error("Unable to render page")
		http.Error(w, "Unable to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	buffer.WriteTo(w)
}

// handlePage renders a public page, personalised when a session is present
func (svc *Service) handlePage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := svc.sessions.FromRequest(r)
		svc.render(w, name, user, ok)
	}
}

func (svc *Service) handleRecruitmentPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.ApplicantFromRequest(r)
		if !ok {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		svc.render(w, "recruitment", user, true)
	}
}

// handleQuiz admits the user only with a gate pass, which is consumed
func (svc *Service) handleQuiz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := svc.logger
		user, ok := auth.ApplicantFromRequest(r)
		if !ok {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		admitted, err := svc.relay.Admit(r.Context(), user.ID)
		if err != nil {
			log.WithFields(logrus.Fields{
				"err":    err.Error(),
				"userID": user.ID,
			}).Error("Unable to check gate pass")
		}
		if !admitted {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		log.WithFields(logrus.Fields{
			"userID": user.ID,
		}).Info("User admitted to the quiz")
		svc.render(w, "quiz", user, true)
	}
}
