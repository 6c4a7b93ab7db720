// Package mailer delivers rendered emails and classifies delivery failures
// as transient (worth retrying) or permanent.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
)

// Message is one rendered email
type Message struct {
	To       string
	ToName   string
	Subject  string
	HTMLBody string
	// Headers are extra headers such as X-Campaign-ID
	Headers map[string]string
}

// Transport sends one message
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// ErrorKind tells a worker whether a failed send may be retried
type ErrorKind int

const (
	Transient ErrorKind = iota
	Permanent
)

func (k ErrorKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// TransportError is a classified send failure
type TransportError struct {
	Kind ErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport error: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TransientError wraps err as retryable
func TransientError(err error) error {
	return &TransportError{Kind: Transient, Err: err}
}

// PermanentError wraps err as not retryable
func PermanentError(err error) error {
	return &TransportError{Kind: Permanent, Err: err}
}

// IsPermanent reports whether err is a permanent transport error. Errors
// that were never classified count as transient.
func IsPermanent(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == Permanent
}

// Classify maps a raw delivery error onto a TransportError. SMTP 5xx replies
// are permanent; 4xx replies, network errors and timeouts are transient.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var te *TransportError
	if errors.As(err, &te) {
		return err
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 500 && tpErr.Code < 600 {
			return PermanentError(err)
		}
		return TransientError(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return TransientError(err)
	}

	return TransientError(err)
}
