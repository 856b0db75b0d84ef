// Package gatewayerr defines the error taxonomy shared by the codec, LZ4
// engine, security manager, stream handler, and dispatcher. Hot paths return
// these as ordinary errors instead of panicking; only programmer errors and
// allocation failures are allowed to propagate as panics.
package gatewayerr

import "errors"

// Kind classifies an error without committing to a message string, so
// callers can branch on errors.Is against the sentinel below.
type Kind int

const (
	KindUnknown Kind = iota
	KindTruncated
	KindMalformed
	KindPayloadTooLarge
	KindUnknownOpCode
	KindPermissionDenied
	KindRateLimited
	KindNotEncrypted
	KindEncryptionNotReady
	KindAuthenticationFailed
	KindDecryptionError
	KindHandlerTimeout
	KindSocketClosed
	KindWriteError
	KindReadError
	KindCanceled
	KindDisposed
	KindConfigInvalid
)

func (k Kind) String() string {
	switch k {
	case KindTruncated:
		return "Truncated"
	case KindMalformed:
		return "Malformed"
	case KindPayloadTooLarge:
		return "PayloadTooLarge"
	case KindUnknownOpCode:
		return "UnknownOpCode"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindRateLimited:
		return "RateLimited"
	case KindNotEncrypted:
		return "NotEncrypted"
	case KindEncryptionNotReady:
		return "EncryptionNotReady"
	case KindAuthenticationFailed:
		return "AuthenticationFailed"
	case KindDecryptionError:
		return "DecryptionError"
	case KindHandlerTimeout:
		return "HandlerTimeout"
	case KindSocketClosed:
		return "SocketClosed"
	case KindWriteError:
		return "WriteError"
	case KindReadError:
		return "ReadError"
	case KindCanceled:
		return "Canceled"
	case KindDisposed:
		return "Disposed"
	case KindConfigInvalid:
		return "ConfigInvalid"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a taxonomy Kind.
type Error struct {
	Kind Kind
	Op   string // component/operation that produced the error, e.g. "codec.Decode"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for the given kind and operation.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is lets errors.Is(err, gatewayerr.Truncated) match any *Error of that Kind,
// regardless of Op or wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel values for errors.Is comparisons where only the Kind matters.
var (
	Truncated            = &Error{Kind: KindTruncated}
	Malformed            = &Error{Kind: KindMalformed}
	PayloadTooLarge      = &Error{Kind: KindPayloadTooLarge}
	UnknownOpCode        = &Error{Kind: KindUnknownOpCode}
	PermissionDenied     = &Error{Kind: KindPermissionDenied}
	RateLimited          = &Error{Kind: KindRateLimited}
	NotEncrypted         = &Error{Kind: KindNotEncrypted}
	EncryptionNotReady   = &Error{Kind: KindEncryptionNotReady}
	AuthenticationFailed = &Error{Kind: KindAuthenticationFailed}
	DecryptionError      = &Error{Kind: KindDecryptionError}
	HandlerTimeout       = &Error{Kind: KindHandlerTimeout}
	SocketClosed         = &Error{Kind: KindSocketClosed}
	WriteError           = &Error{Kind: KindWriteError}
	ReadError            = &Error{Kind: KindReadError}
	Canceled             = &Error{Kind: KindCanceled}
	Disposed             = &Error{Kind: KindDisposed}
	ConfigInvalid        = &Error{Kind: KindConfigInvalid}
)

// Of extracts the Kind of err, walking wrapped errors, or KindUnknown if err
// is not (or does not wrap) a *Error.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
