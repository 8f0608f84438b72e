// Package stdio serves MCP over the process's standard streams. This
// is the transport local editors and agent harnesses spawn directly,
// so callers on it hold the trusted role.
package stdio

import (
	"context"
	"io"
	"log/slog"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/decibelsystems/decibel/internal/ctxutil"
	"github.com/decibelsystems/decibel/internal/model"
)

// Serve runs the MCP server over the given streams until ctx is
// cancelled or the input stream closes.
func Serve(ctx context.Context, s *mcpserver.MCPServer, in io.Reader, out io.Writer, logger *slog.Logger) error {
	stdioSrv := mcpserver.NewStdioServer(s)
	stdioSrv.SetContextFunc(func(ctx context.Context) context.Context {
		return ctxutil.WithCaller(ctx, model.CallerContext{Role: model.RoleTrusted})
	})
	if logger != nil {
		logger.Info("stdio transport starting")
	}
	return stdioSrv.Listen(ctx, in, out)
}
