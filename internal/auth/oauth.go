package auth

import (
	"context"
	"fmt"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"
)

// GitHubUser is the subset of a GitHub profile used for sign-in.
type GitHubUser struct {
	ID        int64  // stable numeric id, used to link accounts
	Login     string // GitHub username
	Email     string // primary verified email, may be empty
	Name      string
	AvatarURL string
}

// GitHubProvider runs the OAuth authorization-code flow against GitHub and
// reads the signed-in user's profile through the REST API.
type GitHubProvider struct {
	config *oauth2.Config

	// apiURL overrides https://api.github.com/ (GitHub Enterprise or tests).
	apiURL string
}

func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     githuboauth.Endpoint,
		},
	}
}

// AuthURL is where the browser is sent to approve access. state is echoed
// back on the callback and must be checked by the caller.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the callback code for an access token and loads the
// user's profile. When the public profile hides the email, the primary
// verified address from /user/emails is used.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*GitHubUser, error) {
	oauthToken, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	client := github.NewClient(p.config.Client(ctx, oauthToken))
	if p.apiURL != "" {
		client, err = client.WithEnterpriseURLs(p.apiURL, p.apiURL)
		if err != nil {
			return nil, fmt.Errorf("auth: configuring GitHub API URL: %w", err)
		}
	}

	u, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("auth: fetching GitHub user: %w", err)
	}
	if u.GetID() == 0 || u.GetLogin() == "" {
		return nil, fmt.Errorf("auth: GitHub returned an incomplete user profile")
	}

	ghUser := &GitHubUser{
		ID:        u.GetID(),
		Login:     u.GetLogin(),
		Email:     u.GetEmail(),
		Name:      u.GetName(),
		AvatarURL: u.GetAvatarURL(),
	}

	if ghUser.Email == "" {
		emails, _, err := client.Users.ListEmails(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("auth: listing GitHub emails: %w", err)
		}
		for _, e := range emails {
			if e.GetPrimary() && e.GetVerified() {
				ghUser.Email = e.GetEmail()
				break
			}
		}
	}

	return ghUser, nil
}
