package services

import (
	"context"
	"errors"
	"regexp"
)

var (
	// ErrInvalidResponse means a provider answered with output that could not
	// be parsed into the expected structure.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrEmptyResult means a provider answered validly but produced nothing
	// usable, e.g. a narrative plan with no segments.
	ErrEmptyResult = errors.New("empty result")

	// ErrPermanent marks an error that retrying will not fix.
	ErrPermanent = errors.New("permanent error")
)

// ErrorCategory decides whether a failed job attempt is worth retrying.
type ErrorCategory string

const (
	CategoryTransient ErrorCategory = "transient"
	CategoryFormat    ErrorCategory = "format"
	CategoryPermanent ErrorCategory = "permanent"
	CategoryUnknown   ErrorCategory = "unknown"
)

var (
	formatPatterns = compileAll(
		`(?i)unsupported.*format`,
		`(?i)invalid.*media`,
		`(?i)media.*type.*not.*supported`,
	)
	ffmpegPermanentPatterns = compileAll(
		`(?i)Invalid data found`,
		`(?i)Codec.*not found`,
		`(?i)No such file or directory`,
		`(?i)Invalid argument`,
		`(?i)does not contain any stream`,
		`(?i)Output file.*is empty`,
	)
	permanentPatterns = compileAll(
		`(?i)invalid.*credentials`,
		`(?i)unauthorized`,
		`(?i)permission.*denied`,
		`(?i)content.*policy`,
		`(?i)account.*suspended`,
		`(?i)token.*expired`,
	)
	transientPatterns = compileAll(
		`(?i)rate.?limit`,
		`(?i)too many requests`,
		`(?i)timeout`,
		`(?i)timed out`,
		`\b5\d{2}\b`,
		`(?i)ECONNRESET|connection reset`,
		`(?i)ENOTFOUND|no such host`,
		`(?i)ETIMEDOUT`,
		`(?i)network`,
		`(?i)temporarily unavailable`,
		`(?i)service unavailable`,
	)
)

// Classify sorts an error by whether retrying could help. Narrative errors
// and explicitly permanent errors never retry.
func Classify(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}
	if errors.Is(err, ErrPermanent) || errors.Is(err, ErrInvalidResponse) || errors.Is(err, ErrEmptyResult) {
		return CategoryPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	msg := err.Error()
	switch {
	case matchAny(formatPatterns, msg):
		return CategoryFormat
	case matchAny(ffmpegPermanentPatterns, msg), matchAny(permanentPatterns, msg):
		return CategoryPermanent
	case matchAny(transientPatterns, msg):
		return CategoryTransient
	}
	return CategoryUnknown
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
