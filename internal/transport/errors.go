package transport

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-smtp"
)

// DeliveryError represents a delivery error with type information
type DeliveryError struct {
	Temporary bool
	Message   string

	// RetryAfter is the provider's hint for the next attempt, valid when
	// HasRetryAfter is set. A zero hint means "retry immediately".
	RetryAfter    time.Duration
	HasRetryAfter bool

	// StatusCode is the SMTP reply code or HTTP status, zero when unknown
	StatusCode int
}

func (e *DeliveryError) Error() string {
	return e.Message
}

func temporaryf(format string, args ...any) *DeliveryError {
	return &DeliveryError{Temporary: true, Message: fmt.Sprintf(format, args...)}
}

func permanentf(format string, args ...any) *DeliveryError {
	return &DeliveryError{Temporary: false, Message: fmt.Sprintf(format, args...)}
}

// IsTemporaryError checks if the error is temporary
func IsTemporaryError(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Temporary
	}
	return true // Assume temporary if unknown
}

// RetryAfterHint returns the provider supplied retry delay, if any
func RetryAfterHint(err error) (time.Duration, bool) {
	var de *DeliveryError
	if errors.As(err, &de) && de.HasRetryAfter {
		return de.RetryAfter, true
	}
	return 0, false
}

// ParseRetryAfter interprets a Retry-After header value given either as
// delay-seconds or as an HTTP-date. The result is clamped to be non-negative
// and truncated to millisecond precision.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	var d time.Duration
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0, false
		}
		ms := math.Max(0, secs*1000)
		if ms > float64(math.MaxInt64/int64(time.Millisecond)) {
			ms = float64(math.MaxInt64 / int64(time.Millisecond))
		}
		d = time.Duration(ms) * time.Millisecond
	} else if at, err := http.ParseTime(value); err == nil {
		d = at.Sub(now)
	} else {
		return 0, false
	}

	if d < 0 {
		d = 0
	}
	return d.Truncate(time.Millisecond), true
}

// smtpCodePattern matches SMTP response codes at word boundaries
var smtpCodePattern = regexp.MustCompile(`\b(4\d{2}|5\d{2})\b`)

// categorizeError determines if an SMTP error is temporary or permanent
func categorizeError(err error, stage string) *DeliveryError {
	msg := fmt.Sprintf("%s failed: %v", stage, err)

	var se *smtp.SMTPError
	if errors.As(err, &se) {
		return &DeliveryError{
			Temporary:  se.Code < 500,
			Message:    msg,
			StatusCode: se.Code,
		}
	}

	// Extract SMTP code from error message
	if matches := smtpCodePattern.FindStringSubmatch(err.Error()); len(matches) > 1 {
		code, _ := strconv.Atoi(matches[1])
		return &DeliveryError{
			Temporary:  code < 500,
			Message:    msg,
			StatusCode: code,
		}
	}

	// Assume temporary by default
	return &DeliveryError{
		Temporary: true,
		Message:   msg,
	}
}
