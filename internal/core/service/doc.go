// Package service provides the background services of DeltaMesh.
//
// This package contains:
//
//   - SyncScheduler: periodically collects dirty objects from the client
//     directory and hands them to a Persister
//
// The scheduler defines the Persister and DirtySource interfaces it
// depends on, so storage backends and directories can be swapped and faked
// in tests.
package service
