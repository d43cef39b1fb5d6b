package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/tournevent/carrierbridge/pkg/shipper"
)

// RetryPolicy bounds how often a call is repeated after the carrier rejects
// the presented credential. No other failure is retried.
type RetryPolicy struct {
	MaxAuthRetries int
}

// DefaultRetryPolicy allows a single retry with a fresh credential.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAuthRetries: 1}
}

// Do acquires a credential and runs call. When call fails with an
// authentication rejection the credential is invalidated, reacquired and
// call runs again, at most MaxAuthRetries times. A rejection after the last
// retry is returned as an *shipper.AuthError.
func (p RetryPolicy) Do(ctx context.Context, provider Provider, carrier string, call func(ctx context.Context, cred shipper.Credential) error) error {
	for attempt := 0; ; attempt++ {
		cred, err := provider.Acquire(ctx, carrier)
		if err != nil {
			return err
		}

		err = call(ctx, cred)
		if err == nil || !shipper.IsAuthRejection(err) {
			return err
		}

		provider.Invalidate(carrier)

		if attempt >= p.MaxAuthRetries {
			authErr := shipper.NewAuthError(carrier, fmt.Sprintf("credential rejected after %d retries", attempt)).
				WithRejected(true).
				WithCause(err)
			var rejected *shipper.AuthError
			if errors.As(err, &rejected) {
				authErr.StatusCode = rejected.StatusCode
				authErr.Payload = rejected.Payload
			}
			return authErr
		}
	}
}
