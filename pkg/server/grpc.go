package server

import (
	"context"
	"fmt"
	"net"

	"ecorewards-engine/pkg/config"
	"ecorewards-engine/pkg/errutil"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/validator"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ProvideGRPCServer serves the engine's gRPC surface (health and
// reflection) on GRPC_SERVER.ADDR.
var ProvideGRPCServer = fx.Module("grpc.server",
	fx.Provide(
		NewCertReloader,
		NewListener,
		NewServerOptions,
		NewGRPCServer,
	),
	fx.Invoke(StartGRPCServer),
)

func NewListener(cfg *config.Config) (net.Listener, error) {
	return net.Listen("tcp", fmt.Sprintf(":%s", cfg.Grpc.Addr))
}

func recoverPanic(p any) error {
	zap.L().Error("recovered from panic in grpc handler", zap.Any("panic", p))
	return status.Errorf(codes.Internal, "internal error")
}

// zapLogger adapts zap.L() to the go-grpc-middleware logging interface.
func zapLogger() logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		zf := make([]zap.Field, 0, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			zf = append(zf, zap.Any(fmt.Sprint(fields[i]), fields[i+1]))
		}

		log := zap.L().WithOptions(zap.AddCallerSkip(1))
		switch lvl {
		case logging.LevelDebug:
			log.Debug(msg, zf...)
		case logging.LevelInfo:
			log.Info(msg, zf...)
		case logging.LevelWarn:
			log.Warn(msg, zf...)
		default:
			log.Error(msg, zf...)
		}
	})
}

// NewServerOptions chains recovery, call logging, validation and domain
// error translation, and adds TLS when enabled.
func NewServerOptions(tp trace.TracerProvider, mp metric.MeterProvider, certs *CertReloader) []grpc.ServerOption {
	logOpts := []logging.Option{logging.WithLogOnEvents(logging.FinishCall)}

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			recovery.UnaryServerInterceptor(recovery.WithRecoveryHandler(recoverPanic)),
			logging.UnaryServerInterceptor(zapLogger(), logOpts...),
			validator.UnaryServerInterceptor(validator.WithFailFast()),
			errutil.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			recovery.StreamServerInterceptor(recovery.WithRecoveryHandler(recoverPanic)),
			logging.StreamServerInterceptor(zapLogger(), logOpts...),
		),
		grpc.StatsHandler(
			otelgrpc.NewServerHandler(
				otelgrpc.WithTracerProvider(tp),
				otelgrpc.WithMeterProvider(mp),
			),
		),
	}

	if certs != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(certs.TLSConfig())))
	}

	return opts
}

func NewGRPCServer(opts []grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	reflection.Register(srv)
	return srv
}

func StartGRPCServer(lc fx.Lifecycle, lis net.Listener, srv *grpc.Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				zap.L().Info("Starting gRPC server", zap.String("addr", lis.Addr().String()))
				if err := srv.Serve(lis); err != nil {
					zap.L().Error("gRPC server exited", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			zap.L().Info("Stopping gRPC server")
			srv.GracefulStop()
			return nil
		},
	})
}
