// Package handler implements the deltamesh admin HTTP API.
//
// Endpoints:
//
//	GET  /health                      liveness
//	GET  /ready                       readiness (sync scheduler running)
//	GET  /admin/v1/status/summary     directory statistics
//	GET  /admin/v1/objects/{id}       one resident object
//	POST /admin/v1/sync/flush         run a sync tick now
//
// Every JSON response uses the Response envelope.
package handler
