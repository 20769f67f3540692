package minos

import (
	"github.com/minoskernel/minos/platform"
	"github.com/minoskernel/minos/policy"
	"github.com/minoskernel/minos/service/capsule"
	"github.com/minoskernel/minos/service/event"
	"github.com/minoskernel/minos/service/loader"
	"github.com/minoskernel/minos/service/scheduler"
	"github.com/minoskernel/minos/tracing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Option customises board assembly.
type Option func(s *Service)

// WithConfig sets the board configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) { s.config = config }
}

// WithChip sets the chip implementation; defaults to the host simulator.
func WithChip(chip platform.Chip) Option {
	return func(s *Service) { s.chip = chip }
}

// WithBoundary sets the userspace boundary; defaults to the host simulator.
func WithBoundary(boundary platform.Boundary) Option {
	return func(s *Service) { s.boundary = boundary }
}

// WithScheduler overrides the configuration-derived scheduler.
func WithScheduler(sched scheduler.Scheduler) Option {
	return func(s *Service) { s.sched = sched }
}

// WithPolicy overrides the configuration-derived fault policy.
func WithPolicy(pol *policy.Policy) Option {
	return func(s *Service) { s.policy = pol }
}

// WithEventService sets the lifecycle event bus.
func WithEventService(service *event.Service) Option {
	return func(s *Service) { s.events = service }
}

// WithLoader sets the app loader; defaults to one built from the
// configuration's loader section.
func WithLoader(service *loader.Service) Option {
	return func(s *Service) { s.loader = service }
}

// WithDriver installs a pre-built driver at the given number.
func WithDriver(number int, driver capsule.Driver) Option {
	return func(s *Service) { s.installed[number] = driver }
}

// WithDriverFactory registers a driver kind so the configuration's drivers
// section can build it.
func WithDriverFactory(kind string, configPrototype interface{}, build capsule.Builder) Option {
	return func(s *Service) { _ = s.drivers.RegisterFactory(kind, configPrototype, build) }
}

// WithTracing configures OpenTelemetry tracing. If outputFile is empty the
// stdout exporter is used; otherwise traces are written to the supplied file
// path. The function is safe to call multiple times – the first successful
// initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}

// WithTracingExporter configures OpenTelemetry tracing using a custom
// SpanExporter, for example OTLP, Jaeger or Zipkin. The function is safe to
// call multiple times – the first successful initialisation wins.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
