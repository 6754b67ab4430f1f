// Package requestctx carries the request ID through contexts.
package requestctx

import "context"

type key struct{}

const Unknown = "unknown"

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, key{}, requestID)
}

// GetRequestID returns the request ID stored in ctx, or Unknown.
func GetRequestID(ctx context.Context) string {
	requestID, ok := ctx.Value(key{}).(string)
	if !ok || requestID == "" {
		return Unknown
	}
	return requestID
}
