package memory

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/dativo-io/recourse/internal/memory")

var (
	writesTotal  metric.Int64Counter
	writesDenied metric.Int64Counter
	readsTotal   metric.Int64Counter
	purgedTotal  metric.Int64Counter
	casesGauge   metric.Int64Gauge
)

func init() {
	var err error
	writesTotal, err = meter.Int64Counter("memory.case_writes.total",
		metric.WithDescription("Total case memory write operations"))
	if err != nil {
		writesTotal, _ = meter.Int64Counter("memory.case_writes.total.fallback")
	}

	writesDenied, err = meter.Int64Counter("memory.case_writes.denied",
		metric.WithDescription("Case memory writes denied by the raw-email denylist"))
	if err != nil {
		writesDenied, _ = meter.Int64Counter("memory.case_writes.denied.fallback")
	}

	readsTotal, err = meter.Int64Counter("memory.reads.total",
		metric.WithDescription("Total case memory read operations"))
	if err != nil {
		readsTotal, _ = meter.Int64Counter("memory.reads.total.fallback")
	}

	purgedTotal, err = meter.Int64Counter("memory.cases.purged",
		metric.WithDescription("Case memory records deleted by retention purges"))
	if err != nil {
		purgedTotal, _ = meter.Int64Counter("memory.cases.purged.fallback")
	}

	casesGauge, err = meter.Int64Gauge("memory.cases.count",
		metric.WithDescription("Current number of case memory records"))
	if err != nil {
		casesGauge, _ = meter.Int64Gauge("memory.cases.count.fallback")
	}
}
