package mailer

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tywin1104/crew-gatekeeper/types"
	"github.com/tywin1104/crew-gatekeeper/utils"
)

const (
	mime = "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	// DecisionPath is where decision links point to, followed by the token
	DecisionPath = "/api/decisions/"
)

//go:embed templates/*.html
var templateFS embed.FS

var opsTemplate = template.Must(template.ParseFS(templateFS, "templates/ops.html"))

// SendFunc has the signature of smtp.SendMail
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Config holds the SMTP settings and the ops receiving notifications
type Config struct {
	Server     string
	Port       int
	Email      string
	Password   string
	Ops        []string
	PassPhrase string
	WebsiteURL string
}

// Notifier e-mails every op a summary of the submission with approve and
// reject links
type Notifier struct {
	c      Config
	send   SendFunc
	logger *logrus.Entry
}

// NewNotifier creates a mail notifier sending through smtp.SendMail
func NewNotifier(c Config, logger *logrus.Entry) *Notifier {
	return &Notifier{c: c, send: smtp.SendMail, logger: logger}
}

// WithSender replaces the function used to deliver e-mails
func (n *Notifier) WithSender(send SendFunc) *Notifier {
	n.send = send
	return n
}

type field struct {
	Name  string
	Value string
}

type opsMail struct {
	Applicant   types.Applicant
	AvatarURL   string
	Fields      []field
	ApproveLink string
	RejectLink  string
}

func (n *Notifier) decisionLink(sub types.Submission, decision types.Decision, op string) (string, error) {
	token, err := utils.EncodeDecisionToken(utils.DecisionClaim{
		SubmissionID: sub.ID,
		Decision:     string(decision),
		Op:           op,
	}, n.c.PassPhrase)
	if err != nil {
		return "", err
	}
	return n.c.WebsiteURL + DecisionPath + token, nil
}

// Render builds the e-mail body addressed to one op
func (n *Notifier) Render(sub types.Submission, op string) (string, error) {
	approveLink, err := n.decisionLink(sub, types.DecisionApprove, op)
	if err != nil {
		return "", err
	}
	rejectLink, err := n.decisionLink(sub, types.DecisionReject, op)
	if err != nil {
		return "", err
	}
	buffer := new(bytes.Buffer)
	err = opsTemplate.Execute(buffer, opsMail{
		Applicant: sub.Applicant,
		AvatarURL: sub.Applicant.AvatarURL(),
		Fields: []field{
			{"Name", sub.Form.Name},
			{"Age", sub.Form.Age},
			{"Player ID", sub.Form.PlayerID},
			{"Experience", sub.Form.Experience},
			{"Reason", sub.Form.Reason},
		},
		ApproveLink: approveLink,
		RejectLink:  rejectLink,
	})
	if err != nil {
		return "", err
	}
	return buffer.String(), nil
}

// headerValue keeps user supplied text on a single header line
var headerValue = strings.NewReplacer("\r", " ", "\n", " ")

func (n *Notifier) sendMail(subject, recipent, body string) error {
	content := "To: " + headerValue.Replace(recipent) + "\r\nSubject: " + headerValue.Replace(subject) + "\r\n" + mime + "\r\n" + body
	addr := fmt.Sprintf("%s:%d", n.c.Server, n.c.Port)
	auth := smtp.PlainAuth("", n.c.Email, n.c.Password, n.c.Server)
	return n.send(addr, auth, n.c.Email, []string{recipent}, []byte(content))
}

// Notify e-mails every op. It succeeds when at least one op was reached.
func (n *Notifier) Notify(ctx context.Context, sub types.Submission) (types.MessageRef, error) {
	log := n.logger
	subject := "[Action Required] Application from " + sub.Applicant.Username
	successCount := 0
	for _, op := range n.c.Ops {
		if err := ctx.Err(); err != nil {
			return types.MessageRef{}, err
		}
		body, err := n.Render(sub, op)
		if err != nil {
			return types.MessageRef{}, fmt.Errorf("render notification: %w", err)
		}
		if err := n.sendMail(subject, op, body); err != nil {
			log.WithFields(logrus.Fields{
				"recipent": op,
				"err":      err.Error(),
			}).Error("Failed to send email to op")
			continue
		}
		log.WithFields(logrus.Fields{
			"recipent": op,
		}).Info("Action email sent to op")
		successCount++
	}
	if successCount == 0 {
		return types.MessageRef{}, errors.New("failed to send action emails to any op")
	}
	return types.MessageRef{MessageID: sub.ID}, nil
}

// Retract is a no-op, sent e-mails can not be taken back. Links of a decided
// submission are ignored by the relay.
func (n *Notifier) Retract(ctx context.Context, sub types.Submission) error {
	return nil
}

// IsOp reports whether the e-mail belongs to a configured op
func (n *Notifier) IsOp(email string) bool {
	for _, op := range n.c.Ops {
		if op == email {
			return true
		}
	}
	return false
}
