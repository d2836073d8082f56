package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pubnub "github.com/pubnub/go/v7"
)

type PubNubConfig struct {
	PublishKey   string `json:"pn_pubkey" mapstructure:"pn_pubkey"`
	SubscribeKey string `json:"pn_subkey" mapstructure:"pn_subkey"`
	SecretKey    string `json:"pn_secret" mapstructure:"pn_secret"`
	UUID         string `json:"pn_uuid" mapstructure:"pn_uuid"`
	Timeout      time.Duration
}

type PubNubPublisher struct {
	pn      *pubnub.PubNub
	timeout time.Duration
}

func NewPubNubPublisher(cfg *PubNubConfig) (*PubNubPublisher, error) {
	if cfg.PublishKey == "" || cfg.SubscribeKey == "" {
		return nil, fmt.Errorf("alerts: pubnub publish and subscribe keys are required")
	}
	uuid := cfg.UUID
	if uuid == "" {
		uuid = "eventix-server"
	}

	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(uuid))
	pnCfg.PublishKey = cfg.PublishKey
	pnCfg.SubscribeKey = cfg.SubscribeKey
	pnCfg.SecretKey = cfg.SecretKey

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pnCfg.NonSubscribeRequestTimeout = int(timeout.Seconds())

	return &PubNubPublisher{
		pn:      pubnub.NewPubNub(pnCfg),
		timeout: timeout,
	}, nil
}

func (p *PubNubPublisher) Publish(ctx context.Context, channel string, message any) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, st, err := p.pn.PublishWithContext(ctx).
		Channel(channel).
		Message(message).
		Execute()
	if err != nil {
		return fmt.Errorf("pn.Publish: %w", err)
	}
	if st.Error != nil {
		return fmt.Errorf("pn.Publish status %d: %w", st.StatusCode, st.Error)
	}
	return nil
}

func (p *PubNubPublisher) Close() error {
	p.pn.Destroy()
	return nil
}

// LogPublisher stands in when PubNub keys are not configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, channel string, message any) error {
	slog.Debug("alerts: no transport configured", "channel", channel, "message", message)
	return nil
}

func (LogPublisher) Close() error { return nil }
