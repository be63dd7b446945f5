package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware"
	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	adminTokenTTL   = 20 * time.Minute
	adminProperty   = "admin"
	stateCookieName = "oauth_state"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type claims struct {
	Username string `json:"username"`
	jwt.StandardClaims
}

// HandleAdminSignin handle auth token generation
func (svc *Service) HandleAdminSignin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var creds credentials
		err := json.NewDecoder(r.Body).Decode(&creds)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		// check for valid admin login credentials
		if svc.c.AdminUsername == "" || !equal(creds.Username, svc.c.AdminUsername) || !equal(creds.Password, svc.c.AdminPassword) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		expirationTime := time.Now().Add(adminTokenTTL)
		claims := &claims{
			Username: creds.Username,
			StandardClaims: jwt.StandardClaims{
				ExpiresAt: expirationTime.Unix(),
			},
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		tokenString, err := token.SignedString([]byte(svc.c.JWTTokenSecret))
		if err != nil {
			svc.logger.WithFields(logrus.Fields{
				"err": err.Error(),
			}).Error("Unable to sign the JWT token")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		msg := map[string]map[string]interface{}{"token": {
			"value":   tokenString,
			"expires": expirationTime,
		}}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(msg)
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GetAuthMiddleware return the auth middleware which verifys the admin bearer token
func (svc *Service) GetAuthMiddleware() *jwtmiddleware.JWTMiddleware {
	return jwtmiddleware.New(jwtmiddleware.Options{
		ValidationKeyGetter: func(token *jwt.Token) (interface{}, error) {
			return []byte(svc.c.JWTTokenSecret), nil
		},
		SigningMethod: jwt.SigningMethodHS256,
		UserProperty:  adminProperty,
	})
}

// adminName returns the username of the admin token verified for r
func adminName(r *http.Request) string {
	token, ok := r.Context().Value(adminProperty).(*jwt.Token)
	if !ok {
		return "admin"
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok {
		if username, ok := claims["username"].(string); ok && username != "" {
			return username
		}
	}
	return "admin"
}

func (svc *Service) redirectToLogin(w http.ResponseWriter, r *http.Request, err string) {
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (svc *Service) unauthorized(w http.ResponseWriter, r *http.Request, err string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	msg := map[string]interface{}{"message": "Login required"}
	json.NewEncoder(w).Encode(msg)
}

// handleLogin starts the Discord authorization flow, or completes it when
// Discord redirects back with a code
func (svc *Service) handleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := svc.logger
		code := r.URL.Query().Get("code")
		if code == "" {
			state := uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     stateCookieName,
				Value:    state,
				Path:     "/login",
				MaxAge:   600,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
			http.Redirect(w, r, svc.oauth.AuthCodeURL(state), http.StatusFound)
			return
		}

		stateCookie, err := r.Cookie(stateCookieName)
		if err != nil || stateCookie.Value == "" || !equal(stateCookie.Value, r.URL.Query().Get("state")) {
			log.Warn("Discarding login with a missing or mismatched state")
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: stateCookieName, Path: "/login", MaxAge: -1})

		user, err := svc.oauth.Identify(r.Context(), code)
		if err != nil {
			log.WithFields(logrus.Fields{
				"err": err.Error(),
			}).Error("Unable to identify discord user")
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		if err := svc.sessions.Issue(w, user); err != nil {
			log.WithFields(logrus.Fields{
				"err": err.Error(),
			}).Error("Unable to issue session")
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		log.WithFields(logrus.Fields{
			"userID":   user.ID,
			"username": user.Username,
		}).Info("User logged in")
		http.Redirect(w, r, "/", http.StatusFound)
	}
}

func (svc *Service) handleLogout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.sessions.Clear(w)
		http.Redirect(w, r, "/", http.StatusFound)
	}
}
