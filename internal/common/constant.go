// Package common contains shared constants and sentinel errors used across
// filerelay components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on relay streams.
const AccessTokenHeaderName = "access_token"

// MiB is one mebibyte.
const MiB = 1 << 20
