package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mssola/useragent"
	"github.com/sirupsen/logrus"

	"github.com/torvus-labs/torvus-console/pkg/identity"
	"github.com/torvus-labs/torvus-console/pkg/logging"
	"github.com/torvus-labs/torvus-console/pkg/metrics"
)

// Recorder is the production Sink. It writes every entry to the RFC5424
// logger and appends it to the hash-chained store.
type Recorder struct {
	logger  *Logger
	store   Appender
	enabled bool
	now     func() time.Time
}

var _ Sink = (*Recorder)(nil)

// NewRecorder creates a Recorder. Either logger or store may be nil.
func NewRecorder(logger *Logger, store Appender, enabled bool) *Recorder {
	return &Recorder{
		logger:  logger,
		store:   store,
		enabled: enabled,
		now:     now,
	}
}

// Log records e. Persistence failures are logged and counted, never returned.
func (r *Recorder) Log(ctx context.Context, e Entry) {
	if !r.enabled {
		return
	}

	rec, err := r.build(ctx, e)
	if err != nil {
		r.fail(e, err)
		return
	}

	if r.logger != nil {
		r.logger.Write(rec)
	}
	if r.store != nil {
		// A caller that has already responded must not cancel the audit write
		if err := r.store.Append(context.WithoutCancel(ctx), rec); err != nil {
			r.fail(e, err)
		}
	}
}

func (r *Recorder) build(ctx context.Context, e Entry) (*Record, error) {
	meta, err := encodeMetadata(e.Meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	rec := &Record{
		OccurredAt: r.now(),
		Action:     e.Action,
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		Resource:   e.Resource,
		Metadata:   meta,
	}

	if id, ok := identity.Get(ctx); ok && id != nil {
		principal, email := id.PrincipalID, id.Email
		rec.ActorID = &principal
		rec.ActorEmail = &email
		rec.ActorRoles = id.Roles
		if id.RemoteIP != nil {
			rec.SourceIP = id.RemoteIP.String()
		}
		rec.UserAgent = SummarizeUserAgent(id.UserAgent)
	}
	return rec, nil
}

func (r *Recorder) fail(e Entry, err error) {
	metrics.IncAuditFailure()
	logging.WithFields(logrus.Fields{
		"action":      e.Action,
		"target_type": e.TargetType,
		"target_id":   e.TargetID,
	}).WithError(err).Error("audit: failed to record event")
}

// SummarizeUserAgent reduces a user agent header to "<browser> <version> (<os>)".
// Bots keep their name. Empty input stays empty.
func SummarizeUserAgent(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	if ua.Bot() {
		return "bot: " + name
	}
	if name == "" {
		return truncate(raw, 128)
	}
	summary := strings.TrimSpace(name + " " + version)
	if osName := ua.OS(); osName != "" {
		summary += " (" + osName + ")"
	}
	return summary
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
