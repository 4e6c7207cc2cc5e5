package apierror

// Kind identifies the category of a client failure.
// The set is closed: every failure surfaced by the pipeline maps to exactly one Kind.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindValidation
	KindAuthentication
	KindAuthorization
	KindAPI
	KindNetwork
	KindTimeout
	KindRateLimit
	KindNotFound
	KindConflict
	KindServer
	KindRetryExhausted
	KindCanceled
)

var kindNames = map[Kind]string{
	KindUnknown:        "unknown",
	KindConfiguration:  "configuration",
	KindValidation:     "validation",
	KindAuthentication: "authentication",
	KindAuthorization:  "authorization",
	KindAPI:            "api",
	KindNetwork:        "network",
	KindTimeout:        "timeout",
	KindRateLimit:      "rate_limit",
	KindNotFound:       "not_found",
	KindConflict:       "conflict",
	KindServer:         "server",
	KindRetryExhausted: "retry_exhausted",
	KindCanceled:       "canceled",
}

// String returns the stable snake_case name of the kind
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// IsRetryable reports whether a failure of kind k may be attempted again.
// Network, Timeout, Server and RateLimit failures are transient; everything else is terminal.
func IsRetryable(k Kind) bool {
	switch k {
	case KindNetwork, KindTimeout, KindServer, KindRateLimit:
		return true
	default:
		return false
	}
}
