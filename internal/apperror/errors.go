// Package apperror defines the error taxonomy shared by the store, the
// delivery pipeline and the HTTP layer.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes an error by how the caller should react to it.
type Kind string

const (
	KindValidation Kind = "VALIDATION"
	KindNotFound   Kind = "NOT_FOUND"
	KindConflict   Kind = "CONFLICT"
	KindDependency Kind = "DEPENDENCY"
	KindInternal   Kind = "INTERNAL"
)

// Error carries a Kind plus the operation that failed.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels of the same Kind and Message so that wrapped copies of
// ErrMissingRecipient or ErrNotFound still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message && t.Op == ""
}

var (
	ErrMissingRecipient = &Error{Kind: KindValidation, Message: "recipient could not be resolved from targets or contextJson.recipientId"}
	ErrNotFound         = &Error{Kind: KindNotFound, Message: "not found"}
)

func Validation(op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

func NotFound(op string, err error) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: ErrNotFound.Message, Err: err}
}

func Dependency(op string, err error) *Error {
	return &Error{Kind: KindDependency, Op: op, Message: "dependency failure", Err: err}
}

func Wrap(base *Error, op string) *Error {
	return &Error{Kind: base.Kind, Op: op, Message: base.Message, Err: base.Err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps err onto a response code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindDependency:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// PublicMessage is the text safe to return to API callers.
func PublicMessage(err error) string {
	var ae *Error
	if errors.As(err, &ae) && (ae.Kind == KindValidation || ae.Kind == KindNotFound || ae.Kind == KindConflict) {
		return ae.Message
	}
	return "internal error"
}
