// Package apperr is the error taxonomy shared by services and HTTP handlers.
// Every error carries an English and a Japanese user-facing message.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalid
	KindUnauthenticated
	KindPermissionDenied
	KindNotFound
	KindConflict
	KindFailedPrecondition
	KindInsufficientCredits
)

var kindCodes = map[Kind]string{
	KindInternal:            "internal",
	KindInvalid:             "invalid_argument",
	KindUnauthenticated:     "unauthenticated",
	KindPermissionDenied:    "permission_denied",
	KindNotFound:            "not_found",
	KindConflict:            "conflict",
	KindFailedPrecondition:  "failed_precondition",
	KindInsufficientCredits: "insufficient_credits",
}

// String returns the wire code of the kind.
func (k Kind) String() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return "internal"
}

// HTTPStatus maps the kind to a response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalid:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindFailedPrecondition:
		return http.StatusPreconditionFailed
	case KindInsufficientCredits:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error with bilingual messages.
type Error struct {
	Kind Kind
	// EN and JA are shown to end users; Err is for logs only.
	EN  string
	JA  string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.EN, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.EN)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of kind with the given messages.
func New(kind Kind, en, ja string) *Error {
	return &Error{Kind: kind, EN: en, JA: ja}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(err error, kind Kind, en, ja string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, EN: en, JA: ja, Err: err}
}

// Internal wraps an infrastructure failure with the generic internal message.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindInternal, EN: defaultEN[KindInternal], JA: defaultJA[KindInternal], Err: err}
}

// Invalid is shorthand for a KindInvalid error.
func Invalid(en, ja string) *Error { return New(KindInvalid, en, ja) }

// NotFound is shorthand for a KindNotFound error.
func NotFound(en, ja string) *Error { return New(KindNotFound, en, ja) }

// PermissionDenied is shorthand for a KindPermissionDenied error.
func PermissionDenied(en, ja string) *Error { return New(KindPermissionDenied, en, ja) }

// Unauthenticated returns the standard sign-in-required error.
func Unauthenticated() *Error {
	return New(KindUnauthenticated, defaultEN[KindUnauthenticated], defaultJA[KindUnauthenticated])
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

var defaultEN = map[Kind]string{
	KindInternal:            "An internal error occurred. Please try again later.",
	KindInvalid:             "The request is invalid.",
	KindUnauthenticated:     "Please sign in to continue.",
	KindPermissionDenied:    "You do not have permission to perform this action.",
	KindNotFound:            "The requested resource was not found.",
	KindConflict:            "The resource already exists.",
	KindFailedPrecondition:  "The operation is not allowed in the current state.",
	KindInsufficientCredits: "Not enough AI credits. Please upgrade your plan or purchase more credits.",
}

var defaultJA = map[Kind]string{
	KindInternal:            "内部エラーが発生しました。しばらくしてから再度お試しください。",
	KindInvalid:             "リクエストが不正です。",
	KindUnauthenticated:     "続行するにはサインインしてください。",
	KindPermissionDenied:    "この操作を行う権限がありません。",
	KindNotFound:            "指定されたリソースが見つかりません。",
	KindConflict:            "リソースは既に存在します。",
	KindFailedPrecondition:  "現在の状態ではこの操作を実行できません。",
	KindInsufficientCredits: "AIクレジットが不足しています。プランをアップグレードするか、クレジットを購入してください。",
}
