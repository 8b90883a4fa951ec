package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/collectkit/amazon-collector/internal/models"
)

// AuthClient calls the auth endpoints. They are not bearer-authenticated, so
// it carries no TokenProvider.
type AuthClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

func NewAuthClient(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) *AuthClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &AuthClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
		logger:  logger.With("component", "auth_client"),
	}
}

// SignIn exchanges credentials for a session.
func (a *AuthClient) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	session, err := a.tokenRequest(ctx, "/auth/v1/token?grant_type=password", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("signed in", "email", email)
	return session, nil
}

// SignUp registers an account. The returned session may lack tokens; callers
// follow up with SignIn (register implies login).
func (a *AuthClient) SignUp(ctx context.Context, email, password string) (*models.User, error) {
	body, err := a.post(ctx, "/auth/v1/signup", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	if err != nil {
		return nil, err
	}

	var parsed struct {
		User *models.User `json:"user"`
		// Some deployments return the user object at the top level.
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, AuthError{Err: fmt.Errorf("malformed signup response: %w", err)}
	}
	if parsed.User != nil {
		return parsed.User, nil
	}
	if parsed.ID != "" {
		return &models.User{ID: parsed.ID, Email: parsed.Email}, nil
	}
	return nil, AuthError{Err: fmt.Errorf("signup returned no user")}
}

// RefreshSession exchanges a refresh token for fresh tokens.
func (a *AuthClient) RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	return a.tokenRequest(ctx, "/auth/v1/token?grant_type=refresh_token", map[string]string{
		"refresh_token": refreshToken,
	})
}

// SignOut revokes the session server side.
func (a *AuthClient) SignOut(ctx context.Context, accessToken string) error {
	_, err := a.post(ctx, "/auth/v1/logout", nil, accessToken)
	return err
}

func (a *AuthClient) tokenRequest(ctx context.Context, endpoint string, payload map[string]string) (*models.Session, error) {
	body, err := a.post(ctx, endpoint, payload, "")
	if err != nil {
		return nil, err
	}

	var session models.Session
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, AuthError{Err: fmt.Errorf("malformed token response: %w", err)}
	}
	if session.AccessToken == "" {
		return nil, AuthError{Err: fmt.Errorf("token response missing access_token")}
	}
	if session.ExpiresAt == 0 && session.ExpiresIn > 0 {
		session.ExpiresAt = time.Now().Unix() + session.ExpiresIn
	}
	return &session, nil
}

func (a *AuthClient) post(ctx context.Context, endpoint string, payload interface{}, bearer string) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("apikey", a.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, AuthError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, AuthError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		var parsed errorBody
		if err := json.Unmarshal(body, &parsed); err == nil {
			switch {
			case parsed.ErrorDescription != "":
				message = parsed.ErrorDescription
			case parsed.Message != "":
				message = parsed.Message
			case parsed.Msg != "":
				message = parsed.Msg
			}
		}
		return nil, AuthError{Err: fmt.Errorf("%s", message)}
	}
	return body, nil
}
