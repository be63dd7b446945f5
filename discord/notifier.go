package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
	"github.com/tywin1104/crew-gatekeeper/types"
)

const customIDSeparator = ":"

// Session is the part of a discordgo session the notifier relies on
type Session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier posts submissions as an embed with accept/reject buttons into one
// staff channel
type Notifier struct {
	session   Session
	channelID string
	logger    *logrus.Entry
}

// NewNotifier creates a notifier posting into channelID
func NewNotifier(session Session, channelID string, logger *logrus.Entry) *Notifier {
	return &Notifier{
		session:   session,
		channelID: channelID,
		logger:    logger,
	}
}

// CustomID builds the button id of a decision on a submission
func CustomID(decision types.Decision, submissionID string) string {
	return string(decision) + customIDSeparator + submissionID
}

// ParseCustomID splits a button id into its decision and submission id
func ParseCustomID(customID string) (types.Decision, string, bool) {
	parts := strings.SplitN(customID, customIDSeparator, 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", false
	}
	decision, ok := types.ParseDecision(parts[0])
	if !ok {
		return "", "", false
	}
	return decision, parts[1], true
}

// BuildMessage renders the notification of a submission
func BuildMessage(sub types.Submission) *discordgo.MessageSend {
	embed := &discordgo.MessageEmbed{
		Title: "New application!",
		Author: &discordgo.MessageEmbedAuthor{
			Name:    sub.Applicant.Username,
			IconURL: sub.Applicant.AvatarURL(),
		},
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Name", Value: sub.Form.Name, Inline: true},
			{Name: "Age", Value: sub.Form.Age, Inline: true},
			{Name: "Player ID", Value: sub.Form.PlayerID, Inline: true},
			{Name: "Experience", Value: sub.Form.Experience, Inline: true},
			{Name: "Reason", Value: sub.Form.Reason, Inline: true},
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: "User ID " + sub.Applicant.ID},
		Timestamp: sub.Timestamp.Format(time.RFC3339),
	}
	row := discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.Button{
				CustomID: CustomID(types.DecisionApprove, sub.ID),
				Label:    "✅ Accept",
				Style:    discordgo.SuccessButton,
			},
			discordgo.Button{
				CustomID: CustomID(types.DecisionReject, sub.ID),
				Label:    "❌ Reject",
				Style:    discordgo.DangerButton,
			},
		},
	}
	return &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: []discordgo.MessageComponent{row},
	}
}

// Notify posts the submission into the staff channel
func (n *Notifier) Notify(ctx context.Context, sub types.Submission) (types.MessageRef, error) {
	msg, err := n.session.ChannelMessageSendComplex(n.channelID, BuildMessage(sub), discordgo.WithContext(ctx))
	if err != nil {
		return types.MessageRef{}, fmt.Errorf("send discord message: %w", err)
	}
	return types.MessageRef{ChannelID: msg.ChannelID, MessageID: msg.ID}, nil
}

// Retract deletes the notification of a decided submission
func (n *Notifier) Retract(ctx context.Context, sub types.Submission) error {
	if sub.Message.MessageID == "" {
		return nil
	}
	channelID := sub.Message.ChannelID
	if channelID == "" {
		channelID = n.channelID
	}
	return n.session.ChannelMessageDelete(channelID, sub.Message.MessageID, discordgo.WithContext(ctx))
}
