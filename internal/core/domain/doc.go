// Package domain defines the core domain values for DeltaMesh.
//
// Domain values carry no IO dependencies. This package contains:
//
//   - ObjectID / ClientID: 128-bit identities, fresh (ULID) or derived
//     from a natural key (murmur3)
//   - Errors: coded domain errors shared by every layer
package domain
