// Package telemetry reports failed transfers to Sentry.
package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter sends failed transfers to Sentry. A nil *Reporter is a no-op.
type Reporter struct {
	hub *sentry.Hub
}

// New returns nil when dsn is empty.
func New(dsn, environment string) (*Reporter, error) {
	if dsn == "" {
		return nil, nil
	}
	return newWithOptions(sentry.ClientOptions{Dsn: dsn, Environment: environment})
}

func newWithOptions(opts sentry.ClientOptions) (*Reporter, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (r *Reporter) ReportFailure(taskID, owner string, err error) {
	if r == nil || err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("task_id", taskID)
		scope.SetUser(sentry.User{ID: owner})
		r.hub.CaptureException(err)
	})
}

func (r *Reporter) Flush(timeout time.Duration) {
	if r == nil {
		return
	}
	r.hub.Flush(timeout)
}
