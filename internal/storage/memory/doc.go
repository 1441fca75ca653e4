// Package memory provides the in-memory client directory for DeltaMesh.
//
// The Directory maps object identities to resident replica.Object
// instances and tracks which clients are subscribed to each one.
//
// Features:
//
//   - Sharded Storage: entries distributed across shards, so operations on
//     different identities do not contend
//   - Get-or-Add Registration: the first instance registered under an
//     identity wins; later registrations receive the resident instance
//   - Pinning: the persistence layer can keep objects resident without
//     subscribers
//   - Client Index: reverse lookup from client to subscriptions
//
// Thread Safety:
//
// All operations on one identity run under that identity's shard lock and
// are linearizable.
package memory
