package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRetryFailed      = errors.New("max retries exceeded")          // Wraps the last underlying error
	ErrClientHTTPError  = errors.New("client HTTP error (4xx)")       // Wraps original status
	ErrServerHTTPError  = errors.New("server HTTP error (5xx)")       // Wraps original status
	ErrOtherHTTPError   = errors.New("other HTTP error (non-2xx)")    // Wraps original status
	ErrNetwork          = errors.New("network error")                 // Transport-level failure
	ErrPolicyDenied     = errors.New("URL disallowed by policy")      // Parent of the two below
	ErrDomainNotAllowed = errors.New("URL not in allowed domains")    // Allow-list mismatch
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")      // Robots rule matched
	ErrFixtureNotFound  = errors.New("fixture not found")             // Local file:// fixture missing
	ErrParsing          = errors.New("parsing error")                 // Wraps HTML/URL/YAML parse errors
	ErrFilesystem       = errors.New("filesystem error")              // Wraps os errors
	ErrDatabase         = errors.New("database error")                // Wraps sqlite/badger errors
	ErrRequestCreation  = errors.New("failed to create HTTP request") // Bad URL or method
	ErrResponseBodyRead = errors.New("failed to read response body")
	ErrConfigValidation = errors.New("configuration validation error")
	ErrConfigNotFound   = errors.New("config file not found")
	ErrInsufficientData = errors.New("insufficient data")
	ErrExport           = errors.New("export error")
	ErrAlert            = errors.New("alert delivery failed")
)

// WrapErrorf annotates err with a formatted message, returning nil for a nil err.
func WrapErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// CategorizeError maps an error to a predefined category string for logging/metrics.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrRetryFailed):
		// Retry errors wrap the last attempt's error alongside the sentinel
		if errors.Is(err, ErrServerHTTPError) {
			return "RetryFailed_HTTPServer"
		}
		if errors.Is(err, ErrClientHTTPError) {
			return "RetryFailed_HTTPClient"
		}
		return "RetryFailed_Unknown"
	case errors.Is(err, ErrClientHTTPError):
		errMsg := err.Error()
		if strings.Contains(errMsg, " 404 ") {
			return "HTTP_404"
		}
		if strings.Contains(errMsg, " 403 ") {
			return "HTTP_403"
		}
		if strings.Contains(errMsg, " 401 ") {
			return "HTTP_401"
		}
		if strings.Contains(errMsg, " 429 ") {
			return "HTTP_429"
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrDomainNotAllowed):
		return "Policy_Domain"
	case errors.Is(err, ErrPolicyDenied):
		return "Policy_Other"
	case errors.Is(err, ErrFixtureNotFound):
		return "Fixture_NotFound"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		if strings.Contains(errMsg, "YAML") {
			return "Content_ParsingYAML"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		if errors.Is(err, os.ErrExist) {
			return "Filesystem_Exist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigNotFound):
		return "Config_NotFound"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, ErrInsufficientData):
		return "Data_Insufficient"
	case errors.Is(err, ErrExport):
		return "Export_Failed"
	case errors.Is(err, ErrAlert):
		return "Alert_Failed"
	}

	// --- Fallback checks for common underlying error types/strings ---

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}

	lowerErrMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErrMsg, "timeout"):
		return "Network_TimeoutGeneric"
	case strings.Contains(lowerErrMsg, "connection refused"):
		return "Network_ConnectionRefused"
	case strings.Contains(lowerErrMsg, "no such host"):
		return "Network_DNSLookup"
	case strings.Contains(lowerErrMsg, "tls"), strings.Contains(lowerErrMsg, "certificate"):
		return "Network_TLS"
	case strings.Contains(lowerErrMsg, "reset by peer"):
		return "Network_ConnectionReset"
	case strings.Contains(lowerErrMsg, "broken pipe"):
		return "Network_BrokenPipe"
	}
	if errors.Is(err, ErrNetwork) {
		return "Network_Other"
	}

	return "Unknown"
}
