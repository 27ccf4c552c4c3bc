package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gemxhub/backend/internal/apperror"
	"github.com/gemxhub/backend/internal/config"
	"github.com/gemxhub/backend/internal/models"
	"github.com/gemxhub/backend/internal/utils"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"
)

const oauthStateTTL = 10 * time.Minute

// Identity is what a provider tells us about the signed-in account
type Identity struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Username       string
}

// Provider couples an OAuth client with the endpoint describing the account
type Provider struct {
	Name        models.SocialProvider
	Config      *oauth2.Config
	UserInfoURL string
	// PKCE is required by Twitter
	PKCE  bool
	parse func([]byte) (Identity, error)
}

// NewProviders builds the configured OAuth providers
func NewProviders(cfg config.OAuthConfig) map[models.SocialProvider]*Provider {
	providers := make(map[models.SocialProvider]*Provider)

	if cfg.Google.ClientID != "" {
		providers[models.SocialProviderGoogle] = &Provider{
			Name: models.SocialProviderGoogle,
			Config: &oauth2.Config{
				ClientID:     cfg.Google.ClientID,
				ClientSecret: cfg.Google.ClientSecret,
				RedirectURL:  cfg.Google.RedirectURL,
				Scopes: []string{
					"https://www.googleapis.com/auth/userinfo.email",
					"https://www.googleapis.com/auth/userinfo.profile",
				},
				Endpoint: google.Endpoint,
			},
			UserInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
			parse:       parseGoogleIdentity,
		}
	}

	if cfg.Twitter.ClientID != "" {
		providers[models.SocialProviderTwitter] = &Provider{
			Name: models.SocialProviderTwitter,
			Config: &oauth2.Config{
				ClientID:     cfg.Twitter.ClientID,
				ClientSecret: cfg.Twitter.ClientSecret,
				RedirectURL:  cfg.Twitter.RedirectURL,
				Scopes:       []string{"users.read", "tweet.read"},
				Endpoint: oauth2.Endpoint{
					AuthURL:  "https://twitter.com/i/oauth2/authorize",
					TokenURL: "https://api.twitter.com/2/oauth2/token",
				},
			},
			UserInfoURL: "https://api.twitter.com/2/users/me",
			PKCE:        true,
			parse:       parseTwitterIdentity,
		}
	}

	if cfg.Discord.ClientID != "" {
		providers[models.SocialProviderDiscord] = &Provider{
			Name: models.SocialProviderDiscord,
			Config: &oauth2.Config{
				ClientID:     cfg.Discord.ClientID,
				ClientSecret: cfg.Discord.ClientSecret,
				RedirectURL:  cfg.Discord.RedirectURL,
				Scopes:       []string{"identify", "email"},
				Endpoint: oauth2.Endpoint{
					AuthURL:  "https://discord.com/api/oauth2/authorize",
					TokenURL: "https://discord.com/api/oauth2/token",
				},
			},
			UserInfoURL: "https://discord.com/api/users/@me",
			parse:       parseDiscordIdentity,
		}
	}

	return providers
}

func parseGoogleIdentity(body []byte) (Identity, error) {
	var info struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
		Name          string `json:"name"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return Identity{}, err
	}
	return Identity{ProviderUserID: info.ID, Email: info.Email, EmailVerified: info.VerifiedEmail, Username: info.Name}, nil
}

func parseTwitterIdentity(body []byte) (Identity, error) {
	var info struct {
		Data struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return Identity{}, err
	}
	return Identity{ProviderUserID: info.Data.ID, Username: info.Data.Username}, nil
}

func parseDiscordIdentity(body []byte) (Identity, error) {
	var info struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
		Verified bool   `json:"verified"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return Identity{}, err
	}
	return Identity{ProviderUserID: info.ID, Email: info.Email, EmailVerified: info.Verified, Username: info.Username}, nil
}

type oauthState struct {
	Provider models.SocialProvider `json:"provider"`
	Verifier string                `json:"verifier,omitempty"`
}

func oauthStateKey(state string) string { return "oauth:state:" + state }

func (s *Service) provider(name models.SocialProvider) (*Provider, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, apperror.BadRequest(fmt.Sprintf("unsupported provider: %s", name))
	}
	return p, nil
}

// AuthURL starts an OAuth flow and returns the consent URL and its state
func (s *Service) AuthURL(ctx context.Context, provider models.SocialProvider) (string, string, error) {
	p, err := s.provider(provider)
	if err != nil {
		return "", "", err
	}

	state := uuid.NewString()
	stored := oauthState{Provider: provider}
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOnline}
	if p.PKCE {
		stored.Verifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(stored.Verifier))
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return "", "", apperror.Internal("failed to store state", err)
	}
	if err := s.rdb.Set(ctx, oauthStateKey(state), raw, oauthStateTTL).Err(); err != nil {
		return "", "", apperror.Internal("failed to store state", err)
	}

	return p.Config.AuthCodeURL(state, opts...), state, nil
}

// consumeState validates and deletes an OAuth state, returning its PKCE verifier
func (s *Service) consumeState(ctx context.Context, provider models.SocialProvider, state string) (string, error) {
	pipe := s.rdb.TxPipeline()
	get := pipe.Get(ctx, oauthStateKey(state))
	pipe.Del(ctx, oauthStateKey(state))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return "", apperror.Internal("failed to load state", err)
	}

	raw, err := get.Bytes()
	if err != nil {
		return "", apperror.Unauthorized("invalid or expired state")
	}
	var stored oauthState
	if err := json.Unmarshal(raw, &stored); err != nil || stored.Provider != provider {
		return "", apperror.Unauthorized("invalid or expired state")
	}
	return stored.Verifier, nil
}

// fetchIdentity exchanges an authorization code and reads the account behind it
func (s *Service) fetchIdentity(ctx context.Context, p *Provider, code, verifier, redirectURI string) (Identity, error) {
	conf := *p.Config
	if redirectURI != "" {
		conf.RedirectURL = redirectURI
	}

	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	token, err := conf.Exchange(ctx, code, opts...)
	if err != nil {
		return Identity{}, apperror.Unauthorized("failed to exchange authorization code")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return Identity{}, apperror.Internal("failed to build user info request", err)
	}
	resp, err := conf.Client(ctx, token).Do(req)
	if err != nil {
		return Identity{}, apperror.Internal("failed to get user info", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Identity{}, apperror.Internal("failed to read user info", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Identity{}, apperror.Unauthorized(fmt.Sprintf("%s rejected the access token", p.Name))
	}

	identity, err := p.parse(body)
	if err != nil || identity.ProviderUserID == "" {
		return Identity{}, apperror.Internal("failed to parse user info", err)
	}
	identity.Email = utils.NormalizeEmail(identity.Email)
	return identity, nil
}

// OAuthCallbackRequest finishes an OAuth sign-in
type OAuthCallbackRequest struct {
	Provider models.SocialProvider `json:"provider"`
	Code     string                `json:"code" form:"code" binding:"required"`
	State    string                `json:"state" form:"state" binding:"required"`
}

// OAuthCallback signs in with a provider account. Unknown accounts are
// attached to the user with the same verified email, or get a new user.
func (s *Service) OAuthCallback(ctx context.Context, req OAuthCallbackRequest) (*AuthResponse, error) {
	p, err := s.provider(req.Provider)
	if err != nil {
		return nil, err
	}
	verifier, err := s.consumeState(ctx, req.Provider, req.State)
	if err != nil {
		return nil, err
	}
	identity, err := s.fetchIdentity(ctx, p, req.Code, verifier, "")
	if err != nil {
		return nil, err
	}

	var user *models.User
	var created bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.SocialAccount
		err := tx.Preload("User").
			Where("provider = ? AND provider_user_id = ?", p.Name, identity.ProviderUserID).
			First(&account).Error
		if err == nil {
			user = &account.User
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.Internal("failed to load social account", err)
		}

		if identity.Email != "" && identity.EmailVerified {
			user, created, err = findOrCreateByEmail(tx, identity.Email, identity.Username, true)
		} else {
			user, created, err = findOrCreateByEmail(tx, placeholderEmail(string(p.Name), identity.ProviderUserID), identity.Username, false)
		}
		if err != nil {
			return err
		}

		account = models.SocialAccount{
			UserID:         user.ID,
			Provider:       p.Name,
			ProviderUserID: identity.ProviderUserID,
			Username:       identity.Username,
		}
		if err := tx.Create(&account).Error; err != nil {
			return apperror.FromDB(err, "user not found")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.issue(ctx, user, created)
}

// placeholderEmail addresses accounts whose provider shares no email. The
// .invalid TLD can never receive mail.
func placeholderEmail(kind, id string) string {
	return fmt.Sprintf("%s-%s@users.invalid", kind, id)
}

// LinkSocialRequest attaches a provider account to the signed-in user
type LinkSocialRequest struct {
	Provider    models.SocialProvider `json:"provider" binding:"required"`
	Code        string                `json:"code" binding:"required"`
	State       string                `json:"state"`
	RedirectURI string                `json:"redirectUri"`
}

// LinkSocial links a provider account. An account can belong to one user,
// and a user can hold one account per provider.
func (s *Service) LinkSocial(ctx context.Context, userID uint, req LinkSocialRequest) (*models.SocialAccount, error) {
	p, err := s.provider(req.Provider)
	if err != nil {
		return nil, err
	}

	var verifier string
	if req.State != "" {
		if verifier, err = s.consumeState(ctx, req.Provider, req.State); err != nil {
			return nil, err
		}
	} else if p.PKCE {
		return nil, apperror.BadRequest("state is required for this provider")
	}

	identity, err := s.fetchIdentity(ctx, p, req.Code, verifier, req.RedirectURI)
	if err != nil {
		return nil, err
	}

	var account models.SocialAccount
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			return apperror.FromDB(err, "user not found")
		}

		err := tx.Where("provider = ? AND provider_user_id = ?", p.Name, identity.ProviderUserID).First(&account).Error
		if err == nil {
			if account.UserID != userID {
				return apperror.Conflict("account is linked to another user")
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.Internal("failed to load social account", err)
		}

		var linked int64
		if err := tx.Model(&models.SocialAccount{}).Where("user_id = ? AND provider = ?", userID, p.Name).Count(&linked).Error; err != nil {
			return apperror.Internal("failed to check linked accounts", err)
		}
		if linked > 0 {
			return apperror.Conflict(fmt.Sprintf("a %s account is already linked", p.Name))
		}

		account = models.SocialAccount{
			UserID:         userID,
			Provider:       p.Name,
			ProviderUserID: identity.ProviderUserID,
			Username:       identity.Username,
		}
		return apperror.FromDB(tx.Create(&account).Error, "user not found")
	})
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// UnlinkSocial removes the user's account for provider
func (s *Service) UnlinkSocial(ctx context.Context, userID uint, provider models.SocialProvider) error {
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Delete(&models.SocialAccount{})
	if result.Error != nil {
		return apperror.Internal("failed to unlink account", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperror.NotFound("no linked account for provider")
	}
	return nil
}

// ListSocial returns the user's linked accounts
func (s *Service) ListSocial(ctx context.Context, userID uint) ([]models.SocialAccount, error) {
	var accounts []models.SocialAccount
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("provider").Find(&accounts).Error; err != nil {
		return nil, apperror.Internal("failed to list linked accounts", err)
	}
	return accounts, nil
}
