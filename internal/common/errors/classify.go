package errors

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/url"
)

// FromTransport maps an error returned by an HTTP round trip to the matching
// network code. The second return is false for errors that did not come from
// the transport (the caller picks its own code for those).
func FromTransport(err error, operation string) (*AppError, bool) {
	if err == nil {
		return nil, false
	}

	var (
		unknownAuthority x509.UnknownAuthorityError
		hostnameErr      x509.HostnameError
		certInvalid      x509.CertificateInvalidError
		verifyErr        *tls.CertificateVerificationError
		recordErr        tls.RecordHeaderError
	)
	switch {
	case errors.As(err, &unknownAuthority), errors.As(err, &hostnameErr),
		errors.As(err, &certInvalid), errors.As(err, &verifyErr), errors.As(err, &recordErr):
		return TLSError("TLS handshake failed during "+operation, err), true
	case errors.Is(err, context.DeadlineExceeded):
		return TimeoutError(operation, err), true
	}

	// *url.Error satisfies net.Error itself, look at what it wraps
	inner := err
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return TimeoutError(operation, err), true
		}
		inner = urlErr.Err
	}

	var netErr net.Error
	if errors.As(inner, &netErr) {
		if netErr.Timeout() {
			return TimeoutError(operation, err), true
		}
		return ConnectionError("connection failed during "+operation, err), true
	}

	return nil, false
}

// IsRetryable reports whether err belongs to the network class.
// Authentication, authorization, configuration and validation failures
// are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if appErr, ok := As(err); ok {
		return appErr.Category() == CategoryNetwork
	}
	_, network := FromTransport(err, "")
	return network
}
