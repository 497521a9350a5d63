package logging

import (
	"context"

	"go.viam.com/utils"
)

const debugRequestKey = "debug_request"

type debugRequestCtxKey struct{}

// EnableDebugMode marks ctx so that context-aware logging emits debug entries for it, tagged with
// id. An empty id is replaced by a random one.
func EnableDebugMode(ctx context.Context, id string) context.Context {
	if id == "" {
		id = utils.RandomAlphaString(8)
	}
	return context.WithValue(ctx, debugRequestCtxKey{}, id)
}

// DebugRequest returns the id ctx was put in debug mode with.
func DebugRequest(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(debugRequestCtxKey{}).(string)
	return id, ok && id != ""
}
