package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tywin1104/crew-gatekeeper/types"
	"golang.org/x/oauth2"
)

const (
	discordAuthURL  = "https://discord.com/api/oauth2/authorize"
	discordTokenURL = "https://discord.com/api/oauth2/token"
	discordUserURL  = "https://discord.com/api/users/@me"
)

var scopes = []string{"identify", "guilds"}

// Discord performs the OAuth2 authorization code flow against Discord
type Discord struct {
	config  *oauth2.Config
	userURL string
}

// NewDiscord creates the OAuth client. redirectURL is the public /login url.
func NewDiscord(clientID, clientSecret, redirectURL string) *Discord {
	return &Discord{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   discordAuthURL,
				TokenURL:  discordTokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userURL: discordUserURL,
	}
}

// WithEndpoints points the client at other authorize, token and user urls
func (d *Discord) WithEndpoints(authURL, tokenURL, userURL string) *Discord {
	d.config.Endpoint.AuthURL = authURL
	d.config.Endpoint.TokenURL = tokenURL
	d.userURL = userURL
	return d
}

// AuthCodeURL returns the Discord consent page url
func (d *Discord) AuthCodeURL(state string) string {
	return d.config.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "none"))
}

type discordUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Identify exchanges the authorization code and fetches the user profile
func (d *Discord) Identify(ctx context.Context, code string) (types.Applicant, error) {
	token, err := d.config.Exchange(ctx, code)
	if err != nil {
		return types.Applicant{}, fmt.Errorf("exchange code: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.userURL, nil)
	if err != nil {
		return types.Applicant{}, err
	}
	resp, err := d.config.Client(ctx, token).Do(req)
	if err != nil {
		return types.Applicant{}, fmt.Errorf("fetch user: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return types.Applicant{}, fmt.Errorf("fetch user: status code: %d", resp.StatusCode)
	}
	var user discordUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return types.Applicant{}, fmt.Errorf("decode user: %w", err)
	}
	if user.ID == "" {
		return types.Applicant{}, fmt.Errorf("decode user: missing id")
	}
	return types.Applicant{ID: user.ID, Username: user.Username, Avatar: user.Avatar}, nil
}
