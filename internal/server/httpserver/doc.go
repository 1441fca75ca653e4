// Package httpserver hosts the deltamesh admin and metrics endpoints.
//
// The router mounts the admin API from package handler behind RequestID,
// optional Instrument, AccessLog, Recover and an optional global
// RateLimit. The Prometheus handler only gets RequestID and Recover.
package httpserver
