package errors

import "fmt"

// Config errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrConfigValidation struct {
	Err error
}

func (e *ErrConfigValidation) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ErrConfigValidation) Unwrap() error {
	return e.Err
}

// Credential errors

// ErrNotFound means no credential exists for the user. This is an expected
// state for a user who has never completed the login flow; it is not logged
// as an error.
type ErrNotFound struct {
	UserID string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("no credential stored for user %s", e.UserID)
}

// ErrIntegrity means a stored ciphertext failed authenticated decryption.
// It is kept strictly apart from ErrNotFound so a key-rotation or corruption
// incident never masquerades as an unauthenticated user.
type ErrIntegrity struct {
	Err error
}

func (e *ErrIntegrity) Error() string {
	return fmt.Sprintf("ciphertext integrity check failed: %v", e.Err)
}

func (e *ErrIntegrity) Unwrap() error {
	return e.Err
}

// ErrReauthRequired means the user must run the interactive login flow
// again: either no credential exists or the refresh token was revoked.
type ErrReauthRequired struct {
	UserID string
	Reason string
}

func (e *ErrReauthRequired) Error() string {
	return fmt.Sprintf("user %s must re-authenticate: %s", e.UserID, e.Reason)
}

// Provider errors

// ErrProviderRejected is any non-2xx answer from the identity provider's
// token endpoint. Body is kept for diagnostics; the client secret is never
// part of it.
type ErrProviderRejected struct {
	Operation string
	Status    int
	Body      string
}

func (e *ErrProviderRejected) Error() string {
	return fmt.Sprintf("provider rejected %s with status %d: %s", e.Operation, e.Status, e.Body)
}

// ErrClientCredentials is the HTTP 401 subtype of a provider rejection: the
// configured client id/secret pair is wrong, which no amount of retrying or
// user re-authentication can fix.
type ErrClientCredentials struct {
	Operation string
	Body      string
}

func (e *ErrClientCredentials) Error() string {
	return fmt.Sprintf("provider rejected client credentials during %s: %s", e.Operation, e.Body)
}

// ErrRefreshTokenInvalid means the provider answered invalid_grant: the
// refresh token itself is revoked or expired and the stored credential is
// dead. Only this error justifies deleting the record.
type ErrRefreshTokenInvalid struct {
	UserID string
}

func (e *ErrRefreshTokenInvalid) Error() string {
	return fmt.Sprintf("refresh token for user %s is revoked or expired", e.UserID)
}

// ErrRefreshFailed is a transient refresh failure (timeout, 5xx, network).
// The stored credential is left untouched and the caller may retry.
type ErrRefreshFailed struct {
	UserID string
	Err    error
}

func (e *ErrRefreshFailed) Error() string {
	return fmt.Sprintf("token refresh for user %s failed: %v", e.UserID, e.Err)
}

func (e *ErrRefreshFailed) Unwrap() error {
	return e.Err
}

// Storage errors

type ErrStorage struct {
	Operation string
	Err       error
}

func (e *ErrStorage) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Operation, e.Err)
}

func (e *ErrStorage) Unwrap() error {
	return e.Err
}

type ErrDatabaseOpen struct {
	Path string
	Err  error
}

func (e *ErrDatabaseOpen) Error() string {
	return fmt.Sprintf("failed to open database %s: %v", e.Path, e.Err)
}

func (e *ErrDatabaseOpen) Unwrap() error {
	return e.Err
}

type ErrDatabaseMigration struct {
	Version int
	Err     error
}

func (e *ErrDatabaseMigration) Error() string {
	return fmt.Sprintf("database migration %d failed: %v", e.Version, e.Err)
}

func (e *ErrDatabaseMigration) Unwrap() error {
	return e.Err
}

// Server errors

type ErrServerStart struct {
	Addr string
	Err  error
}

func (e *ErrServerStart) Error() string {
	return fmt.Sprintf("failed to start server on %s: %v", e.Addr, e.Err)
}

func (e *ErrServerStart) Unwrap() error {
	return e.Err
}

type ErrServerShutdown struct {
	Err error
}

func (e *ErrServerShutdown) Error() string {
	return fmt.Sprintf("server shutdown failed: %v", e.Err)
}

func (e *ErrServerShutdown) Unwrap() error {
	return e.Err
}

// Filesystem errors

type ErrDirectoryCreate struct {
	Path string
	Err  error
}

func (e *ErrDirectoryCreate) Error() string {
	return fmt.Sprintf("failed to create directory %s: %v", e.Path, e.Err)
}

func (e *ErrDirectoryCreate) Unwrap() error {
	return e.Err
}

type ErrFileRead struct {
	Path string
	Err  error
}

func (e *ErrFileRead) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *ErrFileRead) Unwrap() error {
	return e.Err
}
