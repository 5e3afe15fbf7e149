// Package metrics emits workbench timings and counts in the CloudWatch
// Embedded Metrics Format (EMF). Each document is one JSON line; when the
// output is shipped to CloudWatch Logs the metrics are extracted from it,
// and locally the lines are simply greppable.
//
// See: https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/CloudWatch_Embedded_Metric_Format_Specification.html
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// Namespace is the CloudWatch namespace workbench metrics are filed under.
const Namespace = "PicWizard"

// Standard CloudWatch metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitBytes        = "Bytes"
	UnitNone         = "None"
)

type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

// emfDirective is the _aws metadata block required by EMF.
type emfDirective struct {
	Timestamp         int64      `json:"Timestamp"`
	CloudWatchMetrics []cwMetric `json:"CloudWatchMetrics"`
}

type cwMetric struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

// Emitter serializes EMF documents onto a writer, one per line.
// It is safe for concurrent use; a nil Emitter discards everything.
type Emitter struct {
	mu        sync.Mutex
	w         io.Writer
	namespace string
	dims      map[string]string
	now       func() time.Time
}

// NewEmitter creates an Emitter writing to w (stdout when nil). Every
// document carries the given command as its Command dimension.
func NewEmitter(w io.Writer, command string) *Emitter {
	if w == nil {
		w = os.Stdout
	}
	e := &Emitter{
		w:         w,
		namespace: Namespace,
		dims:      make(map[string]string),
		now:       time.Now,
	}
	if command != "" {
		e.dims["Command"] = command
	}
	return e
}

// Record starts a document preloaded with the emitter's dimensions.
func (e *Emitter) Record() *Recorder {
	r := &Recorder{
		emitter:    e,
		dimensions: make(map[string]string),
		metrics:    make(map[string]metricDef),
		values:     make(map[string]interface{}),
		properties: make(map[string]interface{}),
	}
	if e != nil {
		for k, v := range e.dims {
			r.dimensions[k] = v
		}
	}
	return r
}

func (e *Emitter) write(line []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.w.Write(append(line, '\n'))
}

// Recorder accumulates one document. Not safe for concurrent use; create
// one per event.
type Recorder struct {
	emitter    *Emitter
	dimensions map[string]string
	metrics    map[string]metricDef
	values     map[string]interface{}
	properties map[string]interface{}
}

// Dimension adds an indexed key-value pair.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dimensions[key] = value
	return r
}

// Metric records a named value with a CloudWatch unit.
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.metrics[name] = metricDef{Name: name, Unit: unit}
	r.values[name] = value
	return r
}

// Count records a count metric of 1.
func (r *Recorder) Count(name string) *Recorder {
	return r.Metric(name, 1, UnitCount)
}

// Duration records d in milliseconds.
func (r *Recorder) Duration(name string, d time.Duration) *Recorder {
	return r.Metric(name, float64(d.Microseconds())/1000, UnitMilliseconds)
}

// Property adds a searchable field that does not create a metric.
func (r *Recorder) Property(key string, value interface{}) *Recorder {
	r.properties[key] = value
	return r
}

// Document renders the EMF JSON without writing it.
func (r *Recorder) Document() ([]byte, error) {
	metricDefs := make([]metricDef, 0, len(r.metrics))
	for _, m := range r.metrics {
		metricDefs = append(metricDefs, m)
	}
	sort.Slice(metricDefs, func(i, j int) bool { return metricDefs[i].Name < metricDefs[j].Name })

	dimKeys := make([]string, 0, len(r.dimensions))
	for k := range r.dimensions {
		dimKeys = append(dimKeys, k)
	}
	sort.Strings(dimKeys)

	now := time.Now
	namespace := Namespace
	if r.emitter != nil {
		now = r.emitter.now
		namespace = r.emitter.namespace
	}

	doc := make(map[string]interface{}, 1+len(r.dimensions)+len(r.values)+len(r.properties))
	for k, v := range r.properties {
		doc[k] = v
	}
	for k, v := range r.dimensions {
		doc[k] = v
	}
	for k, v := range r.values {
		doc[k] = v
	}
	doc["_aws"] = emfDirective{
		Timestamp: now().UnixMilli(),
		CloudWatchMetrics: []cwMetric{{
			Namespace:  namespace,
			Dimensions: [][]string{dimKeys},
			Metrics:    metricDefs,
		}},
	}
	return json.Marshal(doc)
}

// Flush writes the document. Documents without metrics are dropped.
// The Recorder should not be reused afterwards.
func (r *Recorder) Flush() {
	if r.emitter == nil || len(r.metrics) == 0 {
		return
	}
	data, err := r.Document()
	if err != nil {
		fmt.Fprintf(os.Stderr, "emf: failed to marshal metrics: %v\n", err)
		return
	}
	r.emitter.write(data)
}
