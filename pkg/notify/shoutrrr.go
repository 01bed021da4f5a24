package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/containrrr/shoutrrr"
	"github.com/containrrr/shoutrrr/pkg/router"
)

// Shoutrrr sends a short text message through shoutrrr service URLs
type Shoutrrr struct {
	sender *router.ServiceRouter
}

var _ Channel = (*Shoutrrr)(nil)

// NewShoutrrr validates urls and builds one router for all of them
func NewShoutrrr(urls ...string) (*Shoutrrr, error) {
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("invalid notification url: %w", err)
	}
	return &Shoutrrr{sender: sender}, nil
}

func (s *Shoutrrr) Name() string { return "shoutrrr" }

func (s *Shoutrrr) Deliver(ctx context.Context, e Event) error {
	errs := s.sender.Send(FormatMessage(e), nil)
	var joined []error
	for _, err := range errs {
		if err != nil {
			joined = append(joined, err)
		}
	}
	return errors.Join(joined...)
}

// FormatMessage renders an event as a title line followed by sorted key: value lines
func FormatMessage(e Event) string {
	var sb strings.Builder
	sb.WriteString("[torvus] ")
	sb.WriteString(e.Name)
	keys := make([]string, 0, len(e.Payload))
	for k := range e.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("\n%s: %v", k, e.Payload[k]))
	}
	return sb.String()
}
