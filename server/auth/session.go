package auth

import (
	"errors"
	"net/http"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware"
	"github.com/dgrijalva/jwt-go"
	"github.com/tywin1104/crew-gatekeeper/types"
)

const (
	// CookieName is the name of the session cookie
	CookieName = "session"
	// sessionProperty is the request context key the middleware stores the token under
	sessionProperty = "session"
	sessionTTL      = 7 * 24 * time.Hour
)

type sessionClaims struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	jwt.StandardClaims
}

// Sessions issues and verifies the signed session cookie of logged in users
type Sessions struct {
	secret []byte
	secure bool
	now    func() time.Time
}

// NewSessions creates a session manager. secure marks cookies https only.
func NewSessions(secret string, secure bool) *Sessions {
	return &Sessions{
		secret: []byte(secret),
		secure: secure,
		now:    time.Now,
	}
}

// Token signs a session token for the user
func (s *Sessions) Token(user types.Applicant) (string, error) {
	claims := &sessionClaims{
		ID:       user.ID,
		Username: user.Username,
		Avatar:   user.Avatar,
		StandardClaims: jwt.StandardClaims{
			Subject:   user.ID,
			IssuedAt:  s.now().Unix(),
			ExpiresAt: s.now().Add(sessionTTL).Unix(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Issue sets the session cookie for the user
func (s *Sessions) Issue(w http.ResponseWriter, user types.Applicant) error {
	token, err := s.Token(user)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  s.now().Add(sessionTTL),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear removes the session cookie
func (s *Sessions) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Sessions) keyFunc(token *jwt.Token) (interface{}, error) {
	return s.secret, nil
}

// FromRequest returns the user of a valid session cookie, if any
func (s *Sessions) FromRequest(r *http.Request) (types.Applicant, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return types.Applicant{}, false
	}
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(cookie.Value, &claims, s.keyFunc)
	if err != nil || !token.Valid || token.Method != jwt.SigningMethodHS256 {
		return types.Applicant{}, false
	}
	return types.Applicant{ID: claims.ID, Username: claims.Username, Avatar: claims.Avatar}, claims.ID != ""
}

// FromCookie extracts the session token from the session cookie
func FromCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if errors.Is(err, http.ErrNoCookie) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// Middleware returns a jwt middleware that requires a valid session cookie.
// onError answers requests without one.
func (s *Sessions) Middleware(onError func(w http.ResponseWriter, r *http.Request, err string)) *jwtmiddleware.JWTMiddleware {
	return jwtmiddleware.New(jwtmiddleware.Options{
		ValidationKeyGetter: s.keyFunc,
		SigningMethod:       jwt.SigningMethodHS256,
		Extractor:           FromCookie,
		UserProperty:        sessionProperty,
		ErrorHandler:        onError,
	})
}

// ApplicantFromRequest returns the user stored in the request context by the
// session middleware
func ApplicantFromRequest(r *http.Request) (types.Applicant, bool) {
	token, ok := r.Context().Value(sessionProperty).(*jwt.Token)
	if !ok || token == nil {
		return types.Applicant{}, false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.Applicant{}, false
	}
	user := types.Applicant{
		ID:       stringClaim(claims, "id"),
		Username: stringClaim(claims, "username"),
		Avatar:   stringClaim(claims, "avatar"),
	}
	return user, user.ID != ""
}

func stringClaim(claims jwt.MapClaims, key string) string {
	value, _ := claims[key].(string)
	return value
}
