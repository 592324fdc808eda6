// Package placeholder provides the Twitter and Facebook direct-message
// senders. Both check their credentials but do not talk to a provider yet.
package placeholder

import (
	"context"

	"channel-gateway/internal/domain"
	"channel-gateway/internal/ports"
)

// TwitterConfig holds Twitter API v2 user-context credentials.
type TwitterConfig struct {
	APIKey            string
	APISecret         string
	AccessToken       string
	AccessTokenSecret string
}

// FacebookConfig holds Messenger app credentials.
type FacebookConfig struct {
	AppID     string
	AppSecret string
	PageToken string
}

// Social is a sender that always reports not implemented.
type Social struct {
	channel domain.Channel
	reason  string
}

// NewTwitter requires an API key and access token.
func NewTwitter(cfg TwitterConfig) (*Social, error) {
	if cfg.APIKey == "" || cfg.AccessToken == "" {
		return nil, &domain.ConfigurationError{Channel: domain.ChannelTwitter, Reason: "twitter api key and access token required"}
	}
	return &Social{
		channel: domain.ChannelTwitter,
		reason:  "Twitter integration not yet implemented",
	}, nil
}

// NewFacebook requires an app id and secret.
func NewFacebook(cfg FacebookConfig) (*Social, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, &domain.ConfigurationError{Channel: domain.ChannelFacebook, Reason: "facebook app id and secret required"}
	}
	return &Social{
		channel: domain.ChannelFacebook,
		reason:  "Facebook integration not yet implemented",
	}, nil
}

func (s *Social) Channel() domain.Channel { return s.channel }

func (s *Social) Send(_ context.Context, _ ports.SendPayload) ports.SendResult {
	return ports.Failed(ports.FailureNotImplemented, s.reason)
}
