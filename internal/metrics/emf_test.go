package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestEmitter(command string) (*Emitter, *bytes.Buffer) {
	var buf bytes.Buffer
	e := NewEmitter(&buf, command)
	e.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return e, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var docs []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(line), &doc); err != nil {
			t.Fatalf("failed to parse EMF output as JSON: %v\nOutput: %s", err, line)
		}
		docs = append(docs, doc)
	}
	return docs
}

func TestRecorder_FlushOutput(t *testing.T) {
	e, buf := newTestEmitter("serve")

	e.Record().
		Dimension("Method", "clahe").
		Metric("EnhanceLatencyMs", 1234.5, UnitMilliseconds).
		Count("EnhanceRequests").
		Property("file", "scan.png").
		Flush()

	docs := decodeLines(t, buf)
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	doc := docs[0]

	awsMap, ok := doc["_aws"].(map[string]interface{})
	if !ok {
		t.Fatal("missing _aws directive in EMF output")
	}
	if ts, _ := awsMap["Timestamp"].(float64); ts != 1700000000000 {
		t.Errorf("unexpected timestamp %v", awsMap["Timestamp"])
	}

	cwMetrics := awsMap["CloudWatchMetrics"].([]interface{})
	first := cwMetrics[0].(map[string]interface{})
	if first["Namespace"] != Namespace {
		t.Errorf("expected namespace %s, got %v", Namespace, first["Namespace"])
	}
	dims := first["Dimensions"].([]interface{})[0].([]interface{})
	if len(dims) != 2 || dims[0] != "Command" || dims[1] != "Method" {
		t.Errorf("unexpected dimension keys %v", dims)
	}
	metrics := first["Metrics"].([]interface{})
	if len(metrics) != 2 {
		t.Errorf("expected 2 metric definitions, got %d", len(metrics))
	}

	if doc["Command"] != "serve" || doc["Method"] != "clahe" {
		t.Errorf("dimension values missing: %v", doc)
	}
	if doc["EnhanceLatencyMs"] != 1234.5 {
		t.Errorf("expected latency 1234.5, got %v", doc["EnhanceLatencyMs"])
	}
	if doc["file"] != "scan.png" {
		t.Errorf("expected property file, got %v", doc["file"])
	}
}

func TestRecorder_NoMetricsNoOutput(t *testing.T) {
	e, buf := newTestEmitter("")
	e.Record().Dimension("Method", "x").Property("k", "v").Flush()
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestNilEmitterDiscards(t *testing.T) {
	var e *Emitter
	e.Enhancement("gamma_correction", time.Second, true, false, nil)
	e.Export("batch", 3, 100, time.Second, nil)
	e.Ingest(1, 0, time.Millisecond)
	e.Record().Count("x").Flush()
}

func TestEnhancementOutcomes(t *testing.T) {
	e, buf := newTestEmitter("enhance")

	e.Enhancement("gamma_correction", 250*time.Millisecond, true, false, nil)
	e.Enhancement("gamma_correction", 10*time.Millisecond, false, true, nil)
	e.Enhancement("clahe", time.Millisecond, false, false, errors.New("bad gateway"))

	docs := decodeLines(t, buf)
	if len(docs) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(docs))
	}
	if docs[0]["EnhanceCommitted"] != 1.0 || docs[0]["EnhanceLatencyMs"] != 250.0 {
		t.Errorf("unexpected committed document: %v", docs[0])
	}
	if docs[1]["EnhanceStale"] != 1.0 {
		t.Errorf("unexpected stale document: %v", docs[1])
	}
	if docs[2]["EnhanceErrors"] != 1.0 || docs[2]["error"] != "bad gateway" {
		t.Errorf("unexpected error document: %v", docs[2])
	}
}

func TestExportAndIngest(t *testing.T) {
	e, buf := newTestEmitter("export")

	e.Export("batch", 3, 2048, time.Second, nil)
	e.Ingest(2, 1, 5*time.Millisecond)

	docs := decodeLines(t, buf)
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0]["Export"] != "batch" || docs[0]["ExportImages"] != 3.0 || docs[0]["ExportBytes"] != 2048.0 {
		t.Errorf("unexpected export document: %v", docs[0])
	}
	if _, ok := docs[0]["ExportErrors"]; ok {
		t.Error("successful export should not count an error")
	}
	if docs[1]["IngestAccepted"] != 2.0 || docs[1]["IngestRejected"] != 1.0 {
		t.Errorf("unexpected ingest document: %v", docs[1])
	}
}
