package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// SDID constants for structured data IDs (RFC5424).
// 32473 is the private enterprise number reserved for documentation.
const (
	TorvusPEN   = 32473
	SDIDAuth    = "auth@32473"
	SDIDSubject = "subject@32473"
	SDIDClient  = "client@32473"
)

// Syslog facility constants
const (
	FacilityAuth     = 4  // LOG_AUTH - security/authorization messages
	FacilityAuthPriv = 10 // LOG_AUTHPRIV - security/authorization messages (private)
)

// Severity levels matching syslog (RFC5424)
type Severity int

const (
	SeverityEmergency Severity = iota // 0
	SeverityAlert                     // 1
	SeverityCritical                  // 2
	SeverityError                     // 3
	SeverityWarning                   // 4
	SeverityNotice                    // 5
	SeverityInfo                      // 6
	SeverityDebug                     // 7
)

// Entry is a privileged action to record. The actor is taken from the
// identity in the context; an anonymous context records a system action.
type Entry struct {
	Action     string
	TargetType string
	TargetID   string
	Resource   string
	Meta       map[string]any
}

// Sink receives audit entries. Implementations are best-effort: a failure
// to record must never fail the caller.
type Sink interface {
	Log(ctx context.Context, e Entry)
}

// Nop discards every entry
type Nop struct{}

func (Nop) Log(context.Context, Entry) {}

// SeverityFor maps an action to its syslog severity
func SeverityFor(action string) Severity {
	switch {
	case strings.HasSuffix(action, ".revoked"),
		strings.HasSuffix(action, ".executed"),
		strings.HasSuffix(action, ".applied"),
		strings.HasSuffix(action, ".revealed"):
		return SeverityNotice
	case strings.HasSuffix(action, ".rejected"),
		strings.HasPrefix(action, "alert."):
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Logger handles audit logging in RFC5424 syslog format
type Logger struct {
	writer   io.Writer
	hostname string
	appName  string
	pid      int
}

// NewLogger creates a new audit logger
func NewLogger() *Logger {
	hostname, _ := os.Hostname()
	return &Logger{
		writer:   os.Stdout,
		hostname: hostname,
		appName:  "torvus",
		pid:      os.Getpid(),
	}
}

// SetWriter sets the output writer for the logger
func (l *Logger) SetWriter(w io.Writer) {
	l.writer = w
}

// Write emits a record as one RFC5424 line
// Format: <PRI>VERSION TIMESTAMP HOSTNAME APP-NAME PROCID MSGID SD MSG
func (l *Logger) Write(rec *Record) {
	// Calculate PRI value: facility * 8 + severity
	pri := FacilityAuthPriv*8 + int(SeverityFor(rec.Action))

	timestamp := rec.OccurredAt.UTC().Format("2006-01-02T15:04:05.000Z")

	sd := formatStructuredData(rec.structuredData())
	if sd == "" {
		sd = "-"
	}

	hostname := l.hostname
	if hostname == "" {
		hostname = "-"
	}

	logLine := fmt.Sprintf("<%d>1 %s %s %s %d %s %s %s\n",
		pri,
		timestamp,
		hostname,
		l.appName,
		l.pid,
		rec.Action,
		sd,
		rec.message(),
	)

	_, _ = l.writer.Write([]byte(logLine))
}

// formatStructuredData formats the structured data according to RFC5424
// Format: [sdid param1="value1" param2="value2"][sdid2 ...]
func formatStructuredData(sd map[string]map[string]string) string {
	if len(sd) == 0 {
		return ""
	}

	ids := make([]string, 0, len(sd))
	for sdid := range sd {
		ids = append(ids, sdid)
	}
	sort.Strings(ids)

	var parts []string
	for _, sdid := range ids {
		params := sd[sdid]
		keys := make([]string, 0, len(params))
		for key := range params {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		paramParts := []string{sdid}
		for _, key := range keys {
			paramParts = append(paramParts, fmt.Sprintf("%s=%s", key, escapeSDValue(params[key])))
		}
		parts = append(parts, "["+strings.Join(paramParts, " ")+"]")
	}
	return strings.Join(parts, "")
}

// escapeSDValue escapes special characters in structured data values per RFC5424
func escapeSDValue(value string) string {
	// Escape backslash, double quote, and closing bracket
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "]", "\\]")
	return "\"" + value + "\""
}

func (r *Record) structuredData() map[string]map[string]string {
	sd := map[string]map[string]string{}

	subject := map[string]string{}
	if r.TargetType != "" {
		subject["type"] = r.TargetType
	}
	if r.TargetID != "" {
		subject["id"] = r.TargetID
	}
	if r.Resource != "" {
		subject["resource"] = r.Resource
	}
	if len(subject) > 0 {
		sd[SDIDSubject] = subject
	}

	if r.ActorID != nil {
		auth := map[string]string{"user": *r.ActorID}
		if r.ActorEmail != nil {
			auth["email"] = *r.ActorEmail
		}
		sd[SDIDAuth] = auth
	}

	if r.SourceIP != "" {
		sd[SDIDClient] = map[string]string{"ip": r.SourceIP}
	}
	return sd
}

func (r *Record) message() string {
	actor := "system"
	if r.ActorEmail != nil {
		actor = *r.ActorEmail
	}
	target := strings.TrimSpace(r.TargetType + " " + r.TargetID)
	if target == "" {
		return fmt.Sprintf("%s performed %s", actor, r.Action)
	}
	return fmt.Sprintf("%s performed %s on %s", actor, r.Action, target)
}

// now is the clock used for new records, truncated to the precision postgres keeps
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
