package discord_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tywin1104/crew-gatekeeper/db"
	"github.com/tywin1104/crew-gatekeeper/discord"
	"github.com/tywin1104/crew-gatekeeper/types"
)

type fakeSession struct {
	sentChannel string
	sent        *discordgo.MessageSend
	deleted     []string
	responses   []*discordgo.InteractionResponse
	edits       []string
	sendErr     error
	respondErr  error
}

func (s *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	s.sentChannel = channelID
	s.sent = data
	return &discordgo.Message{ID: "m1", ChannelID: channelID}, nil
}

func (s *fakeSession) ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error {
	s.deleted = append(s.deleted, channelID+"/"+messageID)
	return nil
}

func (s *fakeSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	if s.respondErr != nil {
		return s.respondErr
	}
	s.responses = append(s.responses, resp)
	return nil
}

func (s *fakeSession) InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.edits = append(s.edits, *newresp.Content)
	return &discordgo.Message{}, nil
}

type decision struct {
	submissionID string
	decision     types.Decision
	staff        string
}

type fakeDecider struct {
	calls        []decision
	applied      bool
	err          error
	// when set, the decider records whether the click was acknowledged
	// before deciding and how much time it was given
	session      *fakeSession
	ackedFirst   bool
	timeToDecide time.Duration
}

func (d *fakeDecider) Decide(ctx context.Context, submissionID string, dec types.Decision, staff string) (types.Submission, bool, error) {
	d.calls = append(d.calls, decision{submissionID, dec, staff})
	if d.session != nil {
		d.ackedFirst = len(d.session.responses) == 1
		if deadline, ok := ctx.Deadline(); ok {
			d.timeToDecide = time.Until(deadline)
		}
	}
	return types.Submission{ID: submissionID}, d.applied, d.err
}

func quietLogger() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

var submission = types.Submission{
	ID:        "sub-1",
	Applicant: types.Applicant{ID: "111", Username: "alice", Avatar: "a_abc"},
	Form: types.ApplicationForm{
		Name: "X", Age: "20", PlayerID: "123", Experience: "none", Reason: "fun",
	},
	Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
}

func TestBuildMessage(t *testing.T) {
	msg := discord.BuildMessage(submission)
	require.Len(t, msg.Embeds, 1)
	embed := msg.Embeds[0]
	assert.Equal(t, "alice", embed.Author.Name)
	assert.Equal(t, "https://cdn.discordapp.com/avatars/111/a_abc.gif?size=1024", embed.Author.IconURL)
	assert.Equal(t, "2024-05-01T10:00:00Z", embed.Timestamp)

	values := make([]string, 0, len(embed.Fields))
	for _, field := range embed.Fields {
		values = append(values, field.Value)
	}
	assert.Equal(t, []string{"X", "20", "123", "none", "fun"}, values)

	require.Len(t, msg.Components, 1)
	row, ok := msg.Components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	require.Len(t, row.Components, 2)
	approve := row.Components[0].(discordgo.Button)
	reject := row.Components[1].(discordgo.Button)
	assert.Equal(t, "approve:sub-1", approve.CustomID)
	assert.Equal(t, "reject:sub-1", reject.CustomID)
	assert.Equal(t, discordgo.SuccessButton, approve.Style)
	assert.Equal(t, discordgo.DangerButton, reject.Style)
}

func TestParseCustomID(t *testing.T) {
	d, id, ok := discord.ParseCustomID("approve:sub-1")
	require.True(t, ok)
	assert.Equal(t, types.DecisionApprove, d)
	assert.Equal(t, "sub-1", id)

	d, id, ok = discord.ParseCustomID(discord.CustomID(types.DecisionReject, "a:b"))
	require.True(t, ok)
	assert.Equal(t, types.DecisionReject, d)
	assert.Equal(t, "a:b", id)

	for _, bad := range []string{"", "yes", "approve:", "maybe:sub-1"} {
		_, _, ok := discord.ParseCustomID(bad)
		assert.False(t, ok, bad)
	}
}

func TestNotifyAndRetract(t *testing.T) {
	session := &fakeSession{}
	n := discord.NewNotifier(session, "999031978626121839", quietLogger())

	ref, err := n.Notify(context.Background(), submission)
	require.NoError(t, err)
	assert.Equal(t, "999031978626121839", session.sentChannel)
	assert.Equal(t, types.MessageRef{ChannelID: "999031978626121839", MessageID: "m1"}, ref)

	sub := submission
	sub.Message = ref
	require.NoError(t, n.Retract(context.Background(), sub))
	assert.Equal(t, []string{"999031978626121839/m1"}, session.deleted)

	// Nothing to delete without a message reference
	require.NoError(t, n.Retract(context.Background(), submission))
	assert.Len(t, session.deleted, 1)
}

func TestNotifyError(t *testing.T) {
	session := &fakeSession{sendErr: errors.New("Missing Access")}
	n := discord.NewNotifier(session, "c", quietLogger())
	_, err := n.Notify(context.Background(), submission)
	assert.Error(t, err)
}

func buttonClick(customID string) *discordgo.Interaction {
	return &discordgo.Interaction{
		Type:   discordgo.InteractionMessageComponent,
		Data:   discordgo.MessageComponentInteractionData{CustomID: customID},
		Member: &discordgo.Member{User: &discordgo.User{Username: "mod"}},
	}
}

func TestListenerAppliesDecision(t *testing.T) {
	session := &fakeSession{}
	decider := &fakeDecider{applied: true}
	l := discord.NewListener(session, decider, quietLogger())

	l.Handle(buttonClick("approve:sub-1"))
	require.Len(t, decider.calls, 1)
	assert.Equal(t, decision{"sub-1", types.DecisionApprove, "mod"}, decider.calls[0])
	require.Len(t, session.responses, 1)
	assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, session.responses[0].Type)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, session.responses[0].Data.Flags)
	require.Len(t, session.edits, 1)
	assert.Contains(t, session.edits[0], "Done!")
}

func TestListenerAcknowledgesBeforeDeciding(t *testing.T) {
	session := &fakeSession{}
	decider := &fakeDecider{applied: true, session: session}
	l := discord.NewListener(session, decider, quietLogger())

	l.Handle(buttonClick("approve:sub-1"))
	assert.True(t, decider.ackedFirst)
	assert.Greater(t, decider.timeToDecide, 3*time.Second)
}

func TestListenerDecidesWhenAcknowledgeFails(t *testing.T) {
	session := &fakeSession{respondErr: errors.New("Unknown interaction")}
	decider := &fakeDecider{applied: true}
	l := discord.NewListener(session, decider, quietLogger())

	l.Handle(buttonClick("approve:sub-1"))
	assert.Len(t, decider.calls, 1)
	assert.Empty(t, session.edits)
}

func TestListenerDuplicateClick(t *testing.T) {
	session := &fakeSession{}
	decider := &fakeDecider{applied: false}
	l := discord.NewListener(session, decider, quietLogger())

	l.Handle(buttonClick("reject:sub-1"))
	require.Len(t, session.edits, 1)
	assert.Contains(t, session.edits[0], "already handled")
}

func TestListenerUnknownSubmission(t *testing.T) {
	session := &fakeSession{}
	decider := &fakeDecider{err: db.ErrNotFound}
	l := discord.NewListener(session, decider, quietLogger())

	l.Handle(buttonClick("approve:gone"))
	require.Len(t, session.edits, 1)
	assert.Contains(t, session.edits[0], "Unknown application")
}

func TestListenerIgnoresOtherInteractions(t *testing.T) {
	session := &fakeSession{}
	decider := &fakeDecider{}
	l := discord.NewListener(session, decider, quietLogger())

	l.Handle(&discordgo.Interaction{Type: discordgo.InteractionApplicationCommand})
	l.Handle(buttonClick("some-other-button"))
	assert.Empty(t, decider.calls)
	assert.Empty(t, session.responses)
	assert.Empty(t, session.edits)
}
