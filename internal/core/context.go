package core

import "context"

type contextKey string

const ctxKeyImportID contextKey = "import_id"

// ContextWithImportID tags ctx with the id of the import run it serves.
func ContextWithImportID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyImportID, id)
}

// ImportIDFromContext returns the import id, or "" outside an import run.
func ImportIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyImportID).(string); ok {
		return v
	}
	return ""
}
