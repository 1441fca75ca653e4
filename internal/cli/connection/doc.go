// Package connection is the CLI client of the deltamesh admin HTTP API.
//
// HTTPClient issues raw requests and ParseResponse unwraps the response
// envelope. AdminClient wraps the admin endpoints with typed results.
package connection
