// Package logging builds the process logger.
//
// New returns a plain *slog.Logger so every package can depend on log/slog
// alone. The handler behind it adds request and trace identifiers taken from
// the context and masks credentials:
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json"})
//	ctx = logging.WithRequestID(ctx, "req-123")
//	logger.InfoContext(ctx, "request gated", "authorization", header)
//	// {"msg":"request gated","authorization":"Bear***","request_id":"req-123"}
package logging
