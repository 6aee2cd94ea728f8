package engine

import (
	"context"
	"fmt"
	"net"

	"github.com/oilcrest/lbbs/internal/config"
	"github.com/oilcrest/lbbs/internal/console"
	"github.com/oilcrest/lbbs/internal/session"
	"github.com/oilcrest/lbbs/internal/telemetry"
	"github.com/oilcrest/lbbs/internal/transform"
)

func Bootstrap(ctx context.Context, cfg config.Config, treg *transform.Registry, sreg *session.Registry) (*Engine, error) {
	// 1. sysop console
	cons, err := console.Listen(cfg.ConsoleSocket, treg, sreg)
	if err != nil {
		return nil, fmt.Errorf("console: %w", err)
	}

	// 2. node listener
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		cons.Stop()
		return nil, fmt.Errorf("listen: %w", err)
	}

	// 3. metrics
	telemetry.Expose(cfg.MetricsPort)

	return &Engine{
		cfg:     cfg,
		console: cons,
		ln:      ln,
		treg:    treg,
		sreg:    sreg,
	}, nil
}
