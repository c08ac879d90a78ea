package proxy

import "time"

// TimeoutPolicy is the set of timeouts applied to one forwarding attempt.
// FirstByteTimeout bounds the wait for response headers and the first body
// chunk of a stream, IdleTimeout every later chunk, and NonStreamTimeout
// the whole of a buffered exchange.
type TimeoutPolicy struct {
	FirstByteTimeout time.Duration
	IdleTimeout      time.Duration
	NonStreamTimeout time.Duration
}

// DefaultTimeoutPolicy matches the defaults of the timeout_settings row.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		FirstByteTimeout: 30 * time.Second,
		IdleTimeout:      60 * time.Second,
		NonStreamTimeout: 120 * time.Second,
	}
}

// WithDefaults fills zero or negative fields from d.
func (p TimeoutPolicy) WithDefaults(d TimeoutPolicy) TimeoutPolicy {
	if p.FirstByteTimeout <= 0 {
		p.FirstByteTimeout = d.FirstByteTimeout
	}
	if p.IdleTimeout <= 0 {
		p.IdleTimeout = d.IdleTimeout
	}
	if p.NonStreamTimeout <= 0 {
		p.NonStreamTimeout = d.NonStreamTimeout
	}
	return p
}
