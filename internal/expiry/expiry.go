// Package expiry handles the time windows of the processor protocol: the
// millisecond timestamps that go into signatures, the lifetime of a hosted
// checkout and the age limit on signed callbacks.
package expiry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultPaymentLifetime is how long a hosted checkout stays payable.
const DefaultPaymentLifetime = 30 * time.Minute

var ErrStale = errors.New("timestamp outside accepted window")

// Millis renders t as decimal unix milliseconds, the X-Timestamp format.
func Millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// ParseMillis reads an X-Timestamp value.
func ParseMillis(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms < 0 {
		return time.Time{}, fmt.Errorf("timestamp must be unix milliseconds, got %q", s)
	}
	return time.UnixMilli(ms), nil
}

// PaymentExpireAt returns the expireAt field of a payment: unix seconds,
// lifetime after issue. A non-positive lifetime uses the default.
func PaymentExpireAt(issue time.Time, lifetime time.Duration) int64 {
	if lifetime <= 0 {
		lifetime = DefaultPaymentLifetime
	}
	return issue.Add(lifetime).Unix()
}

// IsExpired reports whether at is strictly after expireAt (unix seconds).
func IsExpired(expireAt int64, at time.Time) bool {
	return at.Unix() > expireAt
}

// CheckSkew fails with ErrStale when ts is more than window away from now,
// in either direction.
func CheckSkew(ts string, now time.Time, window time.Duration) error {
	t, err := ParseMillis(ts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStale, err)
	}
	d := now.Sub(t)
	if d < 0 {
		d = -d
	}
	if d > window {
		return fmt.Errorf("%w: %s off by %s", ErrStale, ts, d.Truncate(time.Millisecond))
	}
	return nil
}
