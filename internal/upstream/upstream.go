// Package upstream holds the HTTP clients for the two external services the
// analyze pipeline calls: the image classifier and the care-advice
// recommender. Both are built on resty and share the credential setup below.
package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Credentials configures how outgoing requests authenticate.
//
//   - TokenURL set: OAuth2 client-credentials grant, tokens cached and
//     refreshed by x/oauth2
//   - APIToken set: a fixed bearer token
//   - neither: plain unauthenticated requests
type Credentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	APIToken     string
}

// NewHTTPClient returns an *http.Client that attaches the configured
// credentials. Each call returns a fresh client, so per-service settings
// never leak between the classifier and the recommender.
//
// ctx is used only for token fetches; pass a long-lived context.
func NewHTTPClient(ctx context.Context, creds Credentials) *http.Client {
	switch {
	case creds.TokenURL != "":
		cc := clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     creds.TokenURL,
			Scopes:       creds.Scopes,
		}
		return cc.Client(ctx)
	case creds.APIToken != "":
		src := oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: creds.APIToken,
			TokenType:   "Bearer",
		})
		return oauth2.NewClient(ctx, src)
	default:
		return &http.Client{}
	}
}

func newRestyClient(baseURL string, hc *http.Client, logger *slog.Logger) *resty.Client {
	if hc == nil {
		hc = &http.Client{}
	}
	return resty.NewWithClient(hc).
		SetBaseURL(baseURL).
		SetLogger(restyLogger{logger}).
		SetHeader("Accept", "application/json")
}

// restyLogger routes resty's internal warnings through slog.
type restyLogger struct {
	logger *slog.Logger
}

func (l restyLogger) Errorf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...), slog.String("component", "resty"))
}

func (l restyLogger) Warnf(format string, v ...any) {
	l.logger.Warn(fmt.Sprintf(format, v...), slog.String("component", "resty"))
}

func (l restyLogger) Debugf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...), slog.String("component", "resty"))
}
