package server

import (
	"github.com/dpapathanasiou/go-recaptcha"
)

// RecaptchaVerifier confirms a reCAPTCHA response for the client address
type RecaptchaVerifier func(remoteIP, response string) (bool, error)

// NewRecaptchaVerifier verifies responses against Google with the private key
func NewRecaptchaVerifier(privateKey string) RecaptchaVerifier {
	recaptcha.Init(privateKey)
	return recaptcha.Confirm
}
