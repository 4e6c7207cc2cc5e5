// Package backoff computes the wait between retry attempts.
//
// The schedule is exponential, min(Cap, Base * 2^attempt), with attempt 0 being the
// first retry. A server-supplied Retry-After on a rate-limit failure replaces the local
// schedule entirely. An optional jitter fraction spreads delays across
// [d*(1-jitter), d*(1+jitter)] so that many clients do not retry in lockstep.
package backoff

import (
	crand "crypto/rand"
	"encoding/binary"
	"math"
	"time"

	"github.com/gaborage/go-costops/apierror"
)

const (
	// DefaultBase is the delay before the first retry
	DefaultBase = 1 * time.Second

	// DefaultCap bounds every computed delay
	DefaultCap = 30 * time.Second
)

// Policy describes an exponential backoff schedule
type Policy struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64

	// rand returns a uniform value in [0, 1); nil means crypto/rand
	rand func() (float64, error)
}

// New creates a policy with the given base and cap and no jitter
func New(base, maxDelay time.Duration) Policy {
	return Policy{Base: base, Cap: maxDelay}
}

// Default returns the 1s base / 30s cap policy
func Default() Policy {
	return New(DefaultBase, DefaultCap)
}

// WithJitter returns a copy of the policy using the given jitter fraction
func (p Policy) WithJitter(jitter float64) Policy {
	p.Jitter = jitter
	return p
}

// Validate checks that durations are non-negative and jitter lies in [0, 1]
func (p Policy) Validate() error {
	if p.Base < 0 {
		return apierror.NewConfiguration("base delay cannot be negative", "retry.basedelay")
	}
	if p.Cap < 0 {
		return apierror.NewConfiguration("max delay cannot be negative", "retry.maxdelay")
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return apierror.NewConfiguration("jitter must be between 0 and 1", "retry.jitter")
	}
	return nil
}

// Delay returns min(maxDelay, base * 2^attempt) for a 0-indexed retry attempt, without
// jitter. A zero maxDelay leaves the schedule unbounded.
func Delay(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}

	d := base
	for i := 0; i < attempt; i++ {
		if maxDelay > 0 && d >= maxDelay {
			break
		}
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
	}

	if maxDelay > 0 && d > maxDelay {
		d = maxDelay
	}
	return d
}

// Delay returns the jittered delay for a 0-indexed retry attempt
func (p Policy) Delay(attempt int) time.Duration {
	return p.applyJitter(Delay(attempt, p.Base, p.Cap))
}

// DelayFor returns the delay to wait after err on the given attempt.
// A rate-limit error with a positive server-supplied retry-after is honored verbatim,
// even above the cap. The local fallback for a 429 without guidance follows the schedule.
func (p Policy) DelayFor(attempt int, err error) time.Duration {
	if apiErr, ok := apierror.As(err); ok {
		last := apierror.Last(apiErr)
		if last.Kind() == apierror.KindRateLimit && last.RetryAfterFromServer() && last.RetryAfter() > 0 {
			return last.RetryAfter()
		}
	}
	return p.Delay(attempt)
}

func (p Policy) applyJitter(d time.Duration) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	jitter := min(p.Jitter, 1)

	randFn := p.rand
	if randFn == nil {
		randFn = cryptoFloat64
	}
	r, err := randFn()
	if err != nil {
		// On RNG failure, fall back to the full delay
		return d
	}

	factor := 1 - jitter + 2*jitter*r
	return time.Duration(float64(d) * factor)
}

// cryptoFloat64 returns a uniform float64 in [0, 1) using 53 random bits
func cryptoFloat64() (float64, error) {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return 0, err
	}
	return float64(binary.BigEndian.Uint64(buf[:])>>11) / (1 << 53), nil
}
