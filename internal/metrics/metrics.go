// Package metrics exposes detector counters over OpenTelemetry. Until Init
// runs every recorder is a no-op.
package metrics

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter metric.Meter

	state atomic.Int64

	uevents       metric.Int64Counter
	scans         metric.Int64Counter
	registrations metric.Int64Counter
	teardowns     metric.Int64Counter
	stateGauge    metric.Int64ObservableGauge
)

func Init() error {
	meter = otel.Meter("modemd.metrics")

	var err error
	uevents, err = meter.Int64Counter(
		"modemd.uevents",
		metric.WithDescription("Hotplug events received, by action"),
		metric.WithUnit("{events}"),
	)
	if err != nil {
		return err
	}

	scans, err = meter.Int64Counter(
		"modemd.scans",
		metric.WithDescription("Discovery attempts, by outcome"),
		metric.WithUnit("{scans}"),
	)
	if err != nil {
		return err
	}

	registrations, err = meter.Int64Counter(
		"modemd.registrations",
		metric.WithDescription("Modems handed to the provisioner, by family"),
		metric.WithUnit("{modems}"),
	)
	if err != nil {
		return err
	}

	teardowns, err = meter.Int64Counter(
		"modemd.teardowns",
		metric.WithDescription("Modem records torn down"),
		metric.WithUnit("{modems}"),
	)
	if err != nil {
		return err
	}

	stateGauge, err = meter.Int64ObservableGauge(
		"modemd.registry.state",
		metric.WithDescription("Lifecycle state of the tracked modem (0 absent, 3 registered)"),
	)
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(stateGauge, state.Load())
			return nil
		},
		stateGauge,
	)
	return err
}

func UEvent(action string) {
	if uevents == nil {
		return
	}
	uevents.Add(context.Background(), 1, metric.WithAttributes(attribute.String("action", action)))
}

func Scan(outcome string) {
	if scans == nil {
		return
	}
	scans.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func Registered(family string) {
	if registrations == nil {
		return
	}
	registrations.Add(context.Background(), 1, metric.WithAttributes(attribute.String("family", family)))
}

func TornDown() {
	if teardowns == nil {
		return
	}
	teardowns.Add(context.Background(), 1)
}

func SetState(s int) {
	state.Store(int64(s))
}

func State() int {
	return int(state.Load())
}
