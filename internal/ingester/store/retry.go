package store

import (
	"io"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	maxRetries    = 3
	maxBackoffSec = 8
)

// WithRetry runs executeDb, retrying throttling and network errors with
// exponential backoff up to a small fixed budget. Non-retryable errors are
// returned immediately; an exhausted budget surfaces as ErrMaxRetriesExceeded
// so the caller can route the invocation to the dead-letter channel.
func WithRetry(executeDb func() error) error {
	backOff := 1
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := executeDb()
		if err == nil {
			return nil
		}
		if !IsRetryableError(err) {
			return err
		}
		lastErr = err
		if attempt == maxRetries-1 {
			break
		}
		if backOff > maxBackoffSec {
			backOff = maxBackoffSec
		}
		log.WithError(err).Warnf("Retryable error from Redis, waiting %ds before retrying", backOff)
		time.Sleep(time.Duration(backOff) * time.Second)
		backOff *= 2
	}
	return errors.WithStack(&ErrMaxRetriesExceeded{
		Message:   "gave up writing to Redis",
		LastError: lastErr,
	})
}

// IsRetryableError reports whether err is a transient Redis or network
// condition. Largely taken from go-redis' own retryability rules.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if isNetworkError(err) {
		return true
	}
	s := err.Error()
	if s == "ERR max number of clients reached" {
		return true
	}
	for _, prefix := range []string{"LOADING ", "READONLY ", "CLUSTERDOWN ", "TRYAGAIN ", "BUSY "} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func isNetworkError(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
