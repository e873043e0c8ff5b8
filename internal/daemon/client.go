package daemon

import (
	"context"

	"github.com/alucardeht/scss-lsp/internal/lsp"
)

// Dial connects to a running daemon. The returned client still has to be
// initialized.
func Dial(ctx context.Context, socketPath string, config lsp.ClientConfig) (*lsp.Client, error) {
	conn, err := NewSocketConnector(socketPath).Connect(ctx)
	if err != nil {
		return nil, err
	}
	return lsp.NewClient(ctx, conn, config), nil
}
