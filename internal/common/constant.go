package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// device token on outbound sync requests.
const AccessTokenHeaderName = "access_token"

// DefaultNamespace is created together with every tenant.
const DefaultNamespace = "default"
