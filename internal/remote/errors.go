// Package remote runs collection commands on registered hosts over SSH and classifies
// what went wrong when they fail.
package remote

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/parser"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var (
	ErrAuthentication   = errors.New("remote: authentication failed")
	ErrPermission       = errors.New("remote: permission denied")
	ErrNoCredential     = errors.New("remote: no credential for host")
	ErrUnsupportedClass = errors.New("remote: unsupported collection class")
	ErrInvalidOutput    = errors.New("remote: invalid command output")
)

// Classify maps an error from a remote attempt onto a result status
func Classify(err error) models.ResultStatus {
	if err == nil {
		return models.ResultSuccess
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.ResultTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.ResultTimeout
	}

	var keyErr *knownhosts.KeyError
	if errors.Is(err, ErrAuthentication) || errors.Is(err, ErrNoCredential) || errors.As(err, &keyErr) {
		return models.ResultAuthenticationError
	}

	if errors.Is(err, ErrPermission) {
		return models.ResultPermissionError
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitStatus() == 126 {
		return models.ResultPermissionError
	}

	if errors.Is(err, ErrInvalidOutput) || errors.Is(err, parser.ErrMalformed) {
		return models.ResultDataError
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, io.EOF) {
		return models.ResultConnectionError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unable to authenticate"):
		return models.ResultAuthenticationError
	case strings.Contains(msg, "permission denied"):
		return models.ResultPermissionError
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no route to host"):
		return models.ResultConnectionError
	}

	return models.ResultUnknownError
}

// Retryable reports whether another attempt could plausibly succeed
func Retryable(status models.ResultStatus) bool {
	switch status {
	case models.ResultTimeout, models.ResultConnectionError, models.ResultUnknownError:
		return true
	default:
		return false
	}
}
