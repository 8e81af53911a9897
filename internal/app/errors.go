package app

import "errors"

var (
	// ErrInvalidCredentials is returned when the supplied credentials do not match.
	// The message is shown to end users and deliberately does not reveal whether
	// the email exists.
	ErrInvalidCredentials = errors.New("incorrect email address or password")

	// ErrUserInactive is returned when a disabled account attempts to log in.
	ErrUserInactive = errors.New("account is inactive")

	ErrEmailAndPasswordRequired = errors.New("email and password required")
	ErrNameRequired             = errors.New("name is required")
	ErrEmailAlreadyExists       = errors.New("email already registered")

	// ErrBookNotFound is returned for operations referencing an unknown book.
	ErrBookNotFound = errors.New("book not found")
)
