package dispatch

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrNotFound          = errors.New("not found")
	ErrRemote            = errors.New("remote failure")
	ErrTransport         = errors.New("transport failure")
	ErrNoMirrors         = errors.New("no mirrors configured")
)

type FailureKind string

const (
	KindMissingCredential FailureKind = "missing_credential"
	KindPermissionDenied  FailureKind = "permission_denied"
	KindNotFound          FailureKind = "not_found"
	KindRemote            FailureKind = "remote"
	KindTransport         FailureKind = "transport"
	KindNoMirrors         FailureKind = "no_mirrors"
)

const (
	CauseMissingCredential = "no credential configured"
	CausePermissionDenied  = `403 Forbidden: credential lacks permission (needs "repo" or "workflow" scope)`
	CauseNotFound          = "404 Not Found: wrong repository name or the sync workflow file is missing"
	CauseNoMirrors         = "no mirrors configured"
)

// Failure describes why a trigger attempt did not succeed. It is returned as
// data inside Result rather than as a Go error from Trigger.
type Failure struct {
	Kind       FailureKind `json:"kind"`
	StatusCode int         `json:"statusCode,omitempty"`
	Cause      string      `json:"cause"`
	Body       string      `json:"body,omitempty"`
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	return f.Cause
}

func (f *Failure) Is(target error) bool {
	if f == nil {
		return false
	}
	switch f.Kind {
	case KindMissingCredential:
		return target == ErrMissingCredential
	case KindPermissionDenied:
		return target == ErrPermissionDenied
	case KindNotFound:
		return target == ErrNotFound
	case KindRemote:
		return target == ErrRemote
	case KindTransport:
		return target == ErrTransport
	case KindNoMirrors:
		return target == ErrNoMirrors
	}
	return false
}

func missingCredential() *Failure {
	return &Failure{Kind: KindMissingCredential, Cause: CauseMissingCredential}
}

func classifyStatus(status int, body string) *Failure {
	switch status {
	case 403:
		return &Failure{Kind: KindPermissionDenied, StatusCode: status, Cause: CausePermissionDenied, Body: body}
	case 404:
		return &Failure{Kind: KindNotFound, StatusCode: status, Cause: CauseNotFound, Body: body}
	}
	return &Failure{Kind: KindRemote, StatusCode: status, Cause: fmt.Sprintf("%d - %s", status, body), Body: body}
}

func transportFailure(err error) *Failure {
	return &Failure{Kind: KindTransport, Cause: err.Error()}
}
