package activitymap

import (
	"strings"
	"time"

	auth "github.com/dudleytown/crypt-auth"
)

// Area groups activity events by the part of the sign in service that
// raised them
type Area string

const (
	AreaSession        Area = "session"
	AreaProvisioning   Area = "provisioning"
	AreaAdministration Area = "administration"
	AreaAccess         Area = "access"
)

// Outcome tells an auditor whether the action took effect
type Outcome string

const (
	OutcomeDone    Outcome = "done"
	OutcomeFailed  Outcome = "failed"
	OutcomePartial Outcome = "partial"
)

// Who acted on the account
const (
	ActorSelf      = "self"
	ActorAdmin     = "admin"
	ActorSystem    = "system"
	ActorAnonymous = "anonymous"
)

// Entry is the audit line for one activity event
type Entry struct {
	Action    string         `json:"action"`
	Area      Area           `json:"area"`
	Outcome   Outcome        `json:"outcome"`
	Actor     string         `json:"actor"`
	ActorKind string         `json:"actor_kind"`
	Account   string         `json:"account,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	At        time.Time      `json:"at"`
}

type eventShape struct {
	area    Area
	outcome Outcome
}

var shapes = map[auth.ActivityEventType]eventShape{
	auth.ActivityEventLoginSuccess:         {AreaSession, OutcomeDone},
	auth.ActivityEventLoginFailure:         {AreaSession, OutcomeFailed},
	auth.ActivityEventLogout:               {AreaSession, OutcomeDone},
	auth.ActivityEventUserProvisioned:      {AreaProvisioning, OutcomeDone},
	auth.ActivityEventProvisioningPartial:  {AreaProvisioning, OutcomePartial},
	auth.ActivityEventUserProfileUpdated:   {AreaAdministration, OutcomeDone},
	auth.ActivityEventUserProfileDeleted:   {AreaAdministration, OutcomeDone},
	auth.ActivityEventProfileResolveFailed: {AreaAccess, OutcomeFailed},
}

// Option customizes Normalize
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock stamps events that carry no time
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Normalize maps an activity event to its audit entry. Failed sign ins
// have no subject yet, so the account falls back to the email tried.
func Normalize(event auth.ActivityEvent, opts ...Option) Entry {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	shape, ok := shapes[event.EventType]
	if !ok {
		shape = eventShape{area: AreaAccess, outcome: OutcomeDone}
	}

	at := event.OccurredAt
	if at.IsZero() {
		at = o.now().UTC()
	}

	detail := make(map[string]any, len(event.Metadata))
	for k, v := range event.Metadata {
		detail[k] = v
	}

	account := strings.TrimSpace(event.UserID)
	if account == "" {
		if email, ok := detail["email"].(string); ok {
			account = strings.ToLower(strings.TrimSpace(email))
		}
	}

	kind := actorKind(event)
	actor := strings.TrimSpace(event.ActorID)
	if actor == "" {
		actor = kind
	}

	if len(detail) == 0 {
		detail = nil
	}

	return Entry{
		Action:    string(event.EventType),
		Area:      shape.area,
		Outcome:   shape.outcome,
		Actor:     actor,
		ActorKind: kind,
		Account:   account,
		Detail:    detail,
		At:        at,
	}
}

func actorKind(event auth.ActivityEvent) string {
	actor := strings.TrimSpace(event.ActorID)
	switch {
	case actor != "" && actor == strings.TrimSpace(event.UserID):
		return ActorSelf
	case actor != "":
		return ActorAdmin
	case event.EventType == auth.ActivityEventLoginFailure:
		return ActorAnonymous
	default:
		return ActorSystem
	}
}
