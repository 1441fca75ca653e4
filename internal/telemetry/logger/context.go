package logger

import (
	"context"

	"github.com/yndnr/deltamesh-go/internal/core/domain"
)

type contextKey string

const (
	loggerKey   contextKey = "deltamesh.logger"
	objectIDKey contextKey = "deltamesh.object_id"
	clientIDKey contextKey = "deltamesh.client_id"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext extracts the logger from context.
// Returns the default logger if none is set.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok {
		return l
	}
	return Default()
}

// WithObjectID tags the context with the object being operated on.
func WithObjectID(ctx context.Context, id domain.ObjectID) context.Context {
	return context.WithValue(ctx, objectIDKey, id)
}

// ObjectIDFromContext returns the tagged object id, if any.
func ObjectIDFromContext(ctx context.Context) (domain.ObjectID, bool) {
	id, ok := ctx.Value(objectIDKey).(domain.ObjectID)
	return id, ok
}

// WithClientID tags the context with the client being served.
func WithClientID(ctx context.Context, id domain.ClientID) context.Context {
	return context.WithValue(ctx, clientIDKey, id)
}

// ClientIDFromContext returns the tagged client id, if any.
func ClientIDFromContext(ctx context.Context) (domain.ClientID, bool) {
	id, ok := ctx.Value(clientIDKey).(domain.ClientID)
	return id, ok
}

// L is a shorthand for FromContext that also adds the object and client
// ids carried by ctx.
func L(ctx context.Context) Logger {
	l := FromContext(ctx)

	if id, ok := ObjectIDFromContext(ctx); ok {
		l = l.With("object_id", id.String())
	}
	if id, ok := ClientIDFromContext(ctx); ok {
		l = l.With("client_id", id.String())
	}

	return l
}
