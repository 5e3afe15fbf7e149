package metrics

import (
	"time"
)

// Enhancement records one completed enhancement request.
func (e *Emitter) Enhancement(method string, d time.Duration, committed, stale bool, err error) {
	if e == nil {
		return
	}
	r := e.Record().
		Dimension("Method", method).
		Duration("EnhanceLatencyMs", d).
		Count("EnhanceRequests")
	switch {
	case err != nil && !stale:
		r.Count("EnhanceErrors").Property("error", err.Error())
	case stale:
		r.Count("EnhanceStale")
	case committed:
		r.Count("EnhanceCommitted")
	}
	r.Flush()
}

// Export records one export attempt.
func (e *Emitter) Export(kind string, images, size int, d time.Duration, err error) {
	if e == nil {
		return
	}
	r := e.Record().
		Dimension("Export", kind).
		Duration("ExportLatencyMs", d).
		Metric("ExportImages", float64(images), UnitCount).
		Metric("ExportBytes", float64(size), UnitBytes)
	if err != nil {
		r.Count("ExportErrors").Property("error", err.Error())
	}
	r.Flush()
}

// Ingest records one upload batch.
func (e *Emitter) Ingest(accepted, rejected int, d time.Duration) {
	if e == nil {
		return
	}
	e.Record().
		Duration("IngestLatencyMs", d).
		Metric("IngestAccepted", float64(accepted), UnitCount).
		Metric("IngestRejected", float64(rejected), UnitCount).
		Flush()
}
