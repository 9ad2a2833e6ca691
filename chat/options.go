package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultIdleWindow    = 2 * time.Second
	defaultRetryInterval = 5 * time.Second
)

// DefaultBackoff is the delay before each reconnect attempt. When it is
// exhausted the channel settles in Disconnected and checks again every retry interval.
var DefaultBackoff = []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}

// SendPolicy decides what happens to a prompt submitted while a reply is pending.
type SendPolicy int

const (
	// SendPolicyReject refuses the prompt with ErrReplyPending.
	SendPolicyReject SendPolicy = iota
	// SendPolicyQueue holds the prompt and sends it once the reply is finalised.
	SendPolicyQueue
)

func (p SendPolicy) String() string {
	if p == SendPolicyQueue {
		return "queue"
	}
	return "reject"
}

// ParseSendPolicy accepts "reject" or "queue".
func ParseSendPolicy(s string) (SendPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return SendPolicyReject, nil
	case "queue":
		return SendPolicyQueue, nil
	default:
		return SendPolicyReject, fmt.Errorf("unknown send policy %q", s)
	}
}

// Option defines a function type to modify the Channel instance.
type Option func(*Channel)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Channel) {
		c.logger = logger
	}
}

// WithIdleWindow sets how long after the last fragment a reply is considered complete.
func WithIdleWindow(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.idleWindow = d
		}
	}
}

func WithBackoff(delays []time.Duration) Option {
	return func(c *Channel) {
		c.backoff = append([]time.Duration(nil), delays...)
	}
}

// WithRetryInterval sets how often a channel with exhausted retries checks the session again.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.retryInterval = d
		}
	}
}

func WithSendPolicy(policy SendPolicy) Option {
	return func(c *Channel) {
		c.sendPolicy = policy
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Channel) {
		c.metrics = m
	}
}

// WithIDGenerator sets the message id generator (primarily for testing)
func WithIDGenerator(newID func() string) Option {
	return func(c *Channel) {
		c.newID = newID
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(c *Channel) {
		c.nowTime = nowFunc
	}
}
