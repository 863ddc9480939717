// Package apierr classifies failures from the directory backend into the
// categories the rest of the client reacts to, and carries the
// user-facing message for each.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Kind is a failure category.
type Kind int

// Failure categories.
const (
	KindUnknown Kind = iota
	KindValidation
	KindUnauthorized
	KindInvalidCredentials
	KindAccountUnverified
	KindRateLimited
	KindForbidden
	KindNotFound
	KindUnprocessable
	KindServer
	KindNetwork
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindValidation:         "validation",
	KindUnauthorized:       "unauthorized",
	KindInvalidCredentials: "invalid_credentials",
	KindAccountUnverified:  "account_unverified",
	KindRateLimited:        "rate_limited",
	KindForbidden:          "forbidden",
	KindNotFound:           "not_found",
	KindUnprocessable:      "unprocessable",
	KindServer:             "server",
	KindNetwork:            "network",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// User-facing messages shown for each category.
const (
	MsgUnknown            = "Terjadi kesalahan. Silakan coba lagi"
	MsgValidation         = "Periksa kembali data yang Anda masukkan"
	MsgUnauthorized       = "Sesi Anda telah berakhir. Silakan login kembali"
	MsgInvalidCredentials = "Email atau password salah"
	MsgAccountUnverified  = "Akun Anda belum diverifikasi. Silakan cek email Anda"
	MsgRateLimited        = "Terlalu banyak permintaan. Silakan coba lagi nanti"
	MsgForbidden          = "Anda tidak memiliki akses ke halaman ini"
	MsgNotFound           = "Data tidak ditemukan"
	MsgUnprocessable      = "Data yang dikirim tidak valid"
	MsgServer             = "Terjadi kesalahan pada server. Silakan coba lagi nanti"
	MsgNetwork            = "Tidak dapat terhubung ke server. Periksa koneksi internet Anda"
)

var defaultMessages = map[Kind]string{
	KindUnknown:            MsgUnknown,
	KindValidation:         MsgValidation,
	KindUnauthorized:       MsgUnauthorized,
	KindInvalidCredentials: MsgInvalidCredentials,
	KindAccountUnverified:  MsgAccountUnverified,
	KindRateLimited:        MsgRateLimited,
	KindForbidden:          MsgForbidden,
	KindNotFound:           MsgNotFound,
	KindUnprocessable:      MsgUnprocessable,
	KindServer:             MsgServer,
	KindNetwork:            MsgNetwork,
}

// Error is a classified failure.
type Error struct {
	Kind Kind

	// Status is the HTTP status, or 0 when no response was received.
	Status int

	// Message is the user-facing message.
	Message string

	// Detail is the server-provided message, if any.
	Detail string

	// Fields maps field names to validation messages (422 and client-side
	// validation).
	Fields map[string][]string

	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Detail != "" && e.Detail != e.Message {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// FieldError returns the first message for field, or "".
func (e *Error) FieldError(field string) string {
	if msgs := e.Fields[field]; len(msgs) > 0 {
		return msgs[0]
	}
	return ""
}

// FieldNames returns the names of invalid fields, sorted.
func (e *Error) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates an error of the given kind with the default message.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: defaultMessages[kind], Err: err}
}

// FromStatus classifies an HTTP response status. detail is the server
// message and fields the server's field errors, both optional.
func FromStatus(status int, detail string, fields map[string][]string) *Error {
	kind := kindForStatus(status)
	return &Error{
		Kind:    kind,
		Status:  status,
		Message: defaultMessages[kind],
		Detail:  detail,
		Fields:  fields,
	}
}

// Network wraps a transport failure where no response was received.
func Network(err error) *Error {
	return &Error{Kind: KindNetwork, Message: MsgNetwork, Err: err}
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusUnprocessableEntity:
		return KindUnprocessable
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= http.StatusInternalServerError:
		return KindServer
	default:
		return KindUnknown
	}
}

// KindOf returns the kind of err, KindUnknown if err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// IsTransient reports whether retrying err could succeed: connectivity
// failures, 5xx and 429. Cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindNetwork, KindServer, KindRateLimited:
		return true
	default:
		return false
	}
}

// Message returns the user-facing message for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return MsgUnknown
}
