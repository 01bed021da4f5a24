package notify

import (
	"fmt"

	"github.com/torvus-labs/torvus-console/pkg/config"
)

// ChannelsFromConfig builds the channels named by cfg
func ChannelsFromConfig(cfg *config.Config) ([]Channel, error) {
	var channels []Channel
	if len(cfg.NotificationURLs) > 0 {
		s, err := NewShoutrrr(cfg.NotificationURLs...)
		if err != nil {
			return nil, err
		}
		channels = append(channels, s)
	}
	for _, url := range cfg.WebhookURLs {
		if cfg.WebhookSigningSecret == "" {
			return nil, fmt.Errorf("webhook %s configured without a signing secret", url)
		}
		channels = append(channels, NewWebhook(url, cfg.WebhookSigningSecret))
	}
	return channels, nil
}
