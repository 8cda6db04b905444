package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/matt-riley/surveyz/internal/config"
	"github.com/matt-riley/surveyz/internal/middleware"
	"tailscale.com/tsnet"
)

// adminAPI is the tailnet-only admin surface. It is nil when ADMIN_HOSTNAME
// is unset.
type adminAPI struct {
	node   *tsnet.Server
	server *http.Server
}

// startAdmin joins the tailnet as cfg.AdminHostname and serves the handler
// built by newHandler on port 80. identify resolves a request to the tailnet
// login that sent it, for the audit log.
func startAdmin(cfg config.Config, log *slog.Logger, newHandler func(identify func(*http.Request) string) http.Handler) (*adminAPI, error) {
	if cfg.AdminHostname == "" {
		return nil, nil
	}
	if err := os.MkdirAll(cfg.TSStateDir, 0o700); err != nil {
		return nil, fmt.Errorf("create tsnet state dir %s: %w", cfg.TSStateDir, err)
	}

	node := &tsnet.Server{
		Hostname: cfg.AdminHostname,
		AuthKey:  cfg.TSAuthKey,
		Dir:      cfg.TSStateDir,
		Logf: func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...), "component", "tsnet")
		},
	}
	lis, err := node.Listen("tcp", ":80")
	if err != nil {
		node.Close()
		return nil, fmt.Errorf("listen on tailnet as %s: %w", cfg.AdminHostname, err)
	}
	lc, err := node.LocalClient()
	if err != nil {
		node.Close()
		return nil, fmt.Errorf("tsnet local client: %w", err)
	}

	identify := func(r *http.Request) string {
		who, err := lc.WhoIs(r.Context(), r.RemoteAddr)
		if err != nil || who.UserProfile == nil {
			return ""
		}
		return who.UserProfile.LoginName
	}

	admin := &adminAPI{
		node: node,
		server: &http.Server{
			Handler:           middleware.HTTPRequestLogging(log)(newHandler(identify)),
			ReadHeaderTimeout: httpReadHeaderTimeout,
		},
	}
	go func() {
		if err := admin.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("admin api stopped", "error", err)
		}
	}()
	log.Info("admin api listening", "hostname", cfg.AdminHostname)
	return admin, nil
}

// Shutdown drains admin requests and leaves the tailnet. It is safe on a nil
// receiver.
func (a *adminAPI) Shutdown(ctx context.Context) error {
	if a == nil {
		return nil
	}
	err := a.server.Shutdown(ctx)
	if closeErr := a.node.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
