package mailer_test

import (
	"context"
	"errors"
	"net/smtp"
	"regexp"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tywin1104/crew-gatekeeper/mailer"
	"github.com/tywin1104/crew-gatekeeper/types"
	"github.com/tywin1104/crew-gatekeeper/utils"
)

var testConfig = mailer.Config{
	Server:     "smtp.example.com",
	Port:       587,
	Email:      "bot@example.com",
	Ops:        []string{"op1@gmail.com", "op2@gmail.com"},
	PassPhrase: "passphrase",
	WebsiteURL: "https://crew.example.com",
}

var submission = types.Submission{
	ID:        "sub-1",
	Applicant: types.Applicant{ID: "111", Username: "alice", Avatar: "abc"},
	Form: types.ApplicationForm{
		Name: "X", Age: "20", PlayerID: "123", Experience: "none", Reason: "fun <3",
	},
}

func quietLogger() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

type sentMail struct {
	addr string
	to   []string
	msg  string
}

func TestNotifyMailsEveryOp(t *testing.T) {
	var sent []sentMail
	n := mailer.NewNotifier(testConfig, quietLogger()).WithSender(
		func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
			sent = append(sent, sentMail{addr, to, string(msg)})
			return nil
		})

	ref, err := n.Notify(context.Background(), submission)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", ref.MessageID)
	require.Len(t, sent, 2)
	assert.Equal(t, "smtp.example.com:587", sent[0].addr)
	assert.Equal(t, []string{"op1@gmail.com"}, sent[0].to)
	assert.Contains(t, sent[0].msg, "Subject: [Action Required] Application from alice")
	assert.Contains(t, sent[0].msg, "fun &lt;3")
	assert.Contains(t, sent[0].msg, "https://cdn.discordapp.com/avatars/111/abc.jpg?size=1024")
}

func TestSubjectStaysOnOneLine(t *testing.T) {
	var sent []sentMail
	n := mailer.NewNotifier(testConfig, quietLogger()).WithSender(
		func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
			sent = append(sent, sentMail{addr, to, string(msg)})
			return nil
		})
	sub := submission
	sub.Applicant.Username = "mallory\r\nBcc: victim@example.com"

	_, err := n.Notify(context.Background(), sub)
	require.NoError(t, err)
	require.NotEmpty(t, sent)
	header := sent[0].msg[:strings.Index(sent[0].msg, "\n\n")]
	for _, line := range strings.Split(strings.ReplaceAll(header, "\r\n", "\n"), "\n") {
		assert.False(t, strings.HasPrefix(line, "Bcc:"), "injected header line %q", line)
	}
	assert.Contains(t, sent[0].msg, "Subject: [Action Required] Application from mallory  Bcc: victim@example.com\r\n")
}

func TestRenderedLinksCarryDecisions(t *testing.T) {
	n := mailer.NewNotifier(testConfig, quietLogger())
	body, err := n.Render(submission, "op2@gmail.com")
	require.NoError(t, err)

	links := regexp.MustCompile(`href="https://crew\.example\.com/api/decisions/([^"]+)"`).FindAllStringSubmatch(body, -1)
	require.Len(t, links, 2)
	decisions := make([]string, 0, 2)
	for _, link := range links {
		claim, err := utils.DecodeDecisionToken(link[1], "passphrase")
		require.NoError(t, err)
		assert.Equal(t, "sub-1", claim.SubmissionID)
		assert.Equal(t, "op2@gmail.com", claim.Op)
		decisions = append(decisions, claim.Decision)
	}
	assert.Equal(t, "approve,reject", strings.Join(decisions, ","))
}

func TestNotifySucceedsWithOneOp(t *testing.T) {
	n := mailer.NewNotifier(testConfig, quietLogger()).WithSender(
		func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
			if to[0] == "op1@gmail.com" {
				return errors.New("mailbox unavailable")
			}
			return nil
		})
	_, err := n.Notify(context.Background(), submission)
	assert.NoError(t, err)
}

func TestNotifyFailsWhenNoOpReached(t *testing.T) {
	n := mailer.NewNotifier(testConfig, quietLogger()).WithSender(
		func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
			return errors.New("connection refused")
		})
	_, err := n.Notify(context.Background(), submission)
	assert.Error(t, err)
}

func TestIsOp(t *testing.T) {
	n := mailer.NewNotifier(testConfig, quietLogger())
	assert.True(t, n.IsOp("op1@gmail.com"))
	assert.False(t, n.IsOp("intruder@gmail.com"))
}
