package fabric

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/dancxjo/psyche/internal/rpcutil"
)

// ServeRPC removes any stale socket file at socketPath, binds a Unix
// listener, and runs server.Serve on it until ctx is canceled. Used by the
// memory daemon and any motor daemon that exposes a JSON-RPC socket,
// jsonrpc.go envelope shape carried over into
// internal/rpcutil.
func ServeRPC(ctx context.Context, socketPath string, server *rpcutil.Server) error {
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on rpc socket %q: %w", socketPath, err)
	}
	return server.Serve(ctx, ln)
}
