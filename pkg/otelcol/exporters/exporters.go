package exporters

import (
	"context"
	"time"

	"ecorewards-engine/pkg/config"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
)

const dialTimeout = 10 * time.Second

const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"
)

// Provide builds the OTLP span exporter for OTEL.ADDR. OTEL.PROTOCOL picks
// the transport and defaults to grpc; OTEL.INSECURE disables TLS towards
// the collector.
func Provide(cfg *config.Config) (*otlptrace.Exporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	return otlptrace.New(ctx, client(cfg))
}

func client(cfg *config.Config) otlptrace.Client {
	o := cfg.Otel
	if o.Protocol == ProtocolHTTP {
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(o.Addr),
			otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
		}
		if o.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.NewClient(opts...)
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(o.Addr),
		otlptracegrpc.WithCompressor("gzip"),
	}
	if o.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.NewClient(opts...)
}
