// Package registry selects and constructs the sender for a channel.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"channel-gateway/internal/adapters/provider/placeholder"
	"channel-gateway/internal/adapters/provider/resend"
	"channel-gateway/internal/adapters/provider/twilio"
	"channel-gateway/internal/config"
	"channel-gateway/internal/domain"
	"channel-gateway/internal/ports"
)

// Constructor builds a sender from provider configuration. It must not do I/O.
type Constructor func(cfg config.Providers) (ports.Sender, error)

var constructors = map[domain.Channel]Constructor{
	domain.ChannelSMS: func(cfg config.Providers) (ports.Sender, error) {
		return twilio.NewSMS(twilioConfig(cfg))
	},
	domain.ChannelWhatsApp: func(cfg config.Providers) (ports.Sender, error) {
		return twilio.NewWhatsApp(twilioConfig(cfg))
	},
	domain.ChannelVoice: func(cfg config.Providers) (ports.Sender, error) {
		return twilio.NewVoice(twilioConfig(cfg))
	},
	domain.ChannelEmail: func(cfg config.Providers) (ports.Sender, error) {
		return resend.NewEmail(resend.Config{
			APIKey:  cfg.Resend.APIKey,
			From:    cfg.Resend.From,
			BaseURL: cfg.Resend.BaseURL,
			Timeout: cfg.SendTimeout,
		})
	},
	domain.ChannelTwitter: func(cfg config.Providers) (ports.Sender, error) {
		return placeholder.NewTwitter(placeholder.TwitterConfig{
			APIKey:            cfg.Twitter.APIKey,
			APISecret:         cfg.Twitter.APISecret,
			AccessToken:       cfg.Twitter.AccessToken,
			AccessTokenSecret: cfg.Twitter.AccessTokenSecret,
		})
	},
	domain.ChannelFacebook: func(cfg config.Providers) (ports.Sender, error) {
		return placeholder.NewFacebook(placeholder.FacebookConfig{
			AppID:     cfg.Facebook.AppID,
			AppSecret: cfg.Facebook.AppSecret,
		})
	},
}

func twilioConfig(cfg config.Providers) twilio.Config {
	return twilio.Config{
		AccountSID:     cfg.Twilio.AccountSID,
		AuthToken:      cfg.Twilio.AuthToken,
		From:           cfg.Twilio.PhoneNumber,
		WhatsAppFrom:   cfg.Twilio.WhatsAppFrom,
		VoiceURL:       cfg.Twilio.VoiceURL,
		StatusCallback: cfg.Twilio.StatusCallback,
		BaseURL:        cfg.Twilio.BaseURL,
		Timeout:        cfg.SendTimeout,
	}
}

// CreateSender builds a new sender for channel from cfg.
func CreateSender(channel domain.Channel, cfg config.Providers) (ports.Sender, error) {
	ctor, ok := constructors[channel]
	if !ok {
		return nil, &domain.ConfigurationError{
			Channel: channel,
			Reason:  fmt.Sprintf("no transport for channel %q", channel),
			Err:     domain.ErrUnsupportedChannel,
		}
	}
	return ctor(cfg)
}

// Registry caches one sender per channel built from the process-wide
// provider configuration. Senders hold no per-request state.
type Registry struct {
	cfg    config.Providers
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[domain.Channel]ports.Sender
}

// New creates a registry over the configuration loaded at startup.
func New(cfg config.Providers, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:    cfg,
		logger: logger,
		cache:  make(map[domain.Channel]ports.Sender),
	}
}

// DefaultConfig returns the configuration the registry builds senders from.
func (r *Registry) DefaultConfig() config.Providers { return r.cfg }

// Sender returns the cached sender for channel, building it on first use.
// Construction failures are not cached.
func (r *Registry) Sender(channel domain.Channel) (ports.Sender, error) {
	r.mu.RLock()
	if s, ok := r.cache[channel]; ok {
		r.mu.RUnlock()
		return s, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.cache[channel]; ok {
		return s, nil
	}

	s, err := CreateSender(channel, r.cfg)
	if err != nil {
		return nil, err
	}
	r.cache[channel] = s
	return s, nil
}

// Register installs a prebuilt sender for channel, replacing any cached one.
func (r *Registry) Register(s ports.Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[s.Channel()] = s
}

// Configured reports which channels can be constructed with the current
// configuration, sorted by name.
func (r *Registry) Configured() []domain.Channel {
	var out []domain.Channel
	for ch := range constructors {
		if _, err := r.Sender(ch); err == nil {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LogConfigured writes one startup line listing usable channels.
func (r *Registry) LogConfigured() {
	chans := r.Configured()
	names := make([]string, len(chans))
	for i, ch := range chans {
		names[i] = string(ch)
	}
	r.logger.Info("channels configured", "channels", names)
}
