package types

import (
	"strings"
	"time"
)

// Submission statuses
const (
	StatusPending  = "Pending"
	StatusApproved = "Approved"
	StatusRejected = "Rejected"
)

// Decision is the action a staff member takes on a pending submission
type Decision string

// Decisions available on a notification. They are mutually exclusive.
const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ParseDecision accepts the decision names used by buttons, links and the admin API
func ParseDecision(s string) (Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved", "yes", "accept":
		return DecisionApprove, true
	case "reject", "rejected", "no", "deny", "denied":
		return DecisionReject, true
	}
	return "", false
}

// Status returns the submission status a decision moves a pending submission to
func (d Decision) Status() string {
	if d == DecisionApprove {
		return StatusApproved
	}
	return StatusRejected
}

// Applicant is the Discord identity of the submitter
type Applicant struct {
	ID       string `bson:"id" json:"id"`
	Username string `bson:"username" json:"username"`
	Avatar   string `bson:"avatar" json:"avatar"`
}

// AvatarURL returns the CDN url of the applicant avatar. Animated hashes are
// prefixed with "a_" and served as gif.
func (a Applicant) AvatarURL() string {
	if a.Avatar == "" {
		return "https://cdn.discordapp.com/embed/avatars/0.png"
	}
	ext := "jpg"
	if strings.HasPrefix(a.Avatar, "a_") {
		ext = "gif"
	}
	return "https://cdn.discordapp.com/avatars/" + a.ID + "/" + a.Avatar + "." + ext + "?size=1024"
}

// ApplicationForm holds the fields of the recruitment form, kept verbatim
type ApplicationForm struct {
	Name       string `bson:"name" json:"name"`
	Age        string `bson:"age" json:"age"`
	PlayerID   string `bson:"playerID" json:"playerID"`
	Experience string `bson:"require" json:"require"`
	Reason     string `bson:"reason" json:"reason"`
}

// MissingFields lists the form fields that are empty
func (f ApplicationForm) MissingFields() []string {
	missing := make([]string, 0)
	for _, field := range []struct {
		name  string
		value string
	}{
		{"name", f.Name},
		{"age", f.Age},
		{"playerID", f.PlayerID},
		{"require", f.Experience},
		{"reason", f.Reason},
	} {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	return missing
}

// MessageRef points at the outbound notification of a submission
type MessageRef struct {
	ChannelID string `bson:"channelId" json:"channelId,omitempty"`
	MessageID string `bson:"messageId" json:"messageId,omitempty"`
}

// Submission represents a recruitment application and its approval state
type Submission struct {
	ID        string          `bson:"_id" json:"_id"`
	Applicant Applicant       `bson:"applicant" json:"applicant"`
	Form      ApplicationForm `bson:"form" json:"form"`
	Status    string          `bson:"status" json:"status"`
	Timestamp time.Time       `bson:"timestamp" json:"timestamp"`
	// Set once the submission leaves the pending state
	DecidedTimestamp time.Time  `bson:"decidedTimestamp,omitempty" json:"decidedTimestamp,omitempty"`
	Staff            string     `bson:"staff,omitempty" json:"staff,omitempty"`
	Message          MessageRef `bson:"message" json:"message"`
}
