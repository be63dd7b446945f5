package discord

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
	"github.com/tywin1104/crew-gatekeeper/db"
	"github.com/tywin1104/crew-gatekeeper/types"
)

// The interaction is acknowledged right away, Discord only waits three
// seconds for that. The decision itself then gets its own budget.
const decisionTimeout = 10 * time.Second

// Decider applies staff decisions to submissions
type Decider interface {
	Decide(ctx context.Context, submissionID string, decision types.Decision, staff string) (types.Submission, bool, error)
}

// Listener turns button clicks on notifications into decisions
type Listener struct {
	session Session
	decider Decider
	logger  *logrus.Entry
}

// NewListener creates an interaction listener
func NewListener(session Session, decider Decider, logger *logrus.Entry) *Listener {
	return &Listener{
		session: session,
		decider: decider,
		logger:  logger,
	}
}

// HandleInteraction is registered with discordgo.Session.AddHandler
func (l *Listener) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	l.Handle(i.Interaction)
}

func staffName(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.Username
	}
	if i.User != nil {
		return i.User.Username
	}
	return "unknown"
}

// Handle processes one interaction. Anything but a recognised button click is
// ignored.
func (l *Listener) Handle(i *discordgo.Interaction) {
	log := l.logger
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	decision, submissionID, ok := ParseCustomID(i.MessageComponentData().CustomID)
	if !ok {
		return
	}
	staff := staffName(i)

	acked := true
	err := l.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		acked = false
		log.WithFields(logrus.Fields{
			"err":          err.Error(),
			"submissionID": submissionID,
		}).Warn("Unable to acknowledge interaction")
	}

	ctx, cancel := context.WithTimeout(context.Background(), decisionTimeout)
	defer cancel()
	var reply string
	_, applied, err := l.decider.Decide(ctx, submissionID, decision, staff)
	switch {
	case errors.Is(err, db.ErrNotFound):
		reply = "❌ | **Unknown application.**"
	case err != nil:
		log.WithFields(logrus.Fields{
			"err":          err.Error(),
			"submissionID": submissionID,
			"staff":        staff,
		}).Error("Unable to apply decision")
		reply = "❌ | **Something went wrong.**"
	case !applied:
		reply = "ℹ️ | **This application was already handled.**"
	default:
		reply = "✅ | **Done!**"
	}
	if !acked {
		return
	}

	if _, err := l.session.InteractionResponseEdit(i, &discordgo.WebhookEdit{Content: &reply}); err != nil {
		log.WithFields(logrus.Fields{
			"err":          err.Error(),
			"submissionID": submissionID,
		}).Warn("Unable to respond to interaction")
	}
}
