package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"ecorewards-engine/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ProvideHTTPServer = fx.Module("http.server",
	fx.Provide(NewHttpServer),
	fx.Invoke(Run),
)

type Params struct {
	fx.In
	Config  *config.Config
	Handler http.Handler
	Certs   *CertReloader `optional:"true"`
}

// NewHttpServer wraps the API handler. Uploads are bounded by the handler,
// so the timeouts only need to cover slow clients.
func NewHttpServer(p Params) *http.Server {
	cfg := p.Config
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Addr),
		Handler:      p.Handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	if p.Certs != nil {
		srv.TLSConfig = p.Certs.TLSConfig()
	}
	return srv
}

func Run(lc fx.Lifecycle, srv *http.Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				var err error
				if srv.TLSConfig != nil {
					zap.L().Info("Starting HTTP server with tls", zap.String("addr", srv.Addr))
					err = srv.ListenAndServeTLS("", "")
				} else {
					zap.L().Info("Starting HTTP server", zap.String("addr", srv.Addr))
					err = srv.ListenAndServe()
				}
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					zap.L().Error("HTTP server exited", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			zap.L().Info("Shutting down HTTP server gracefully...")
			return srv.Shutdown(ctx)
		},
	})
}
