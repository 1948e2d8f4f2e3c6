package llm

import (
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/persona-dialogue/internal/auth"
)

var (
	// ErrAPIKeyNotSet is returned before any request when no credential is configured.
	ErrAPIKeyNotSet = errors.New("api key not set")
	// ErrEmptyResponse is returned when a call succeeded but produced no text.
	ErrEmptyResponse = errors.New("empty response")
)

// RemoteCallError is a transport or HTTP-level failure of a remote call.
type RemoteCallError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteCallError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s: remote call failed [%d]: %s", e.Op, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: remote call failed [%d]", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("%s: remote call failed: %v", e.Op, e.Err)
	}
}

func (e *RemoteCallError) Unwrap() error { return e.Err }

// IsRemoteCallError reports whether err is, or wraps, a RemoteCallError.
func IsRemoteCallError(err error) bool {
	var rce *RemoteCallError
	return errors.As(err, &rce)
}

// wrapOpenAIError maps go-openai failures onto RemoteCallError. Credential
// errors raised while signing the request pass through unchanged.
func wrapOpenAIError(op string, err error) error {
	if errors.Is(err, auth.ErrInvalidCredentialFormat) {
		return fmt.Errorf("%s: %w", op, auth.ErrInvalidCredentialFormat)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &RemoteCallError{Op: op, StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &RemoteCallError{Op: op, StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return &RemoteCallError{Op: op, Err: err}
}
