// Package benchmark provides the write-load core: records, shared run state,
// the worker loop and the backend sink contract.
package benchmark

import (
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb1-client/pkg/escape"
)

// Tag is a string dimension attached to a Record.
type Tag struct {
	Key   string
	Value string
}

// Field is a value-bearing attribute of a Record.
//
// Value is one of int64, float64, bool or string.
type Field struct {
	Key   string
	Value interface{}
}

// Record is a single data point handed to a Sink.
//
// Tags and Fields keep their insertion order so that the rendered line is
// stable. A Record is never mutated after construction.
type Record struct {
	Measurement string
	Tags        []Tag
	Fields      []Field
	Timestamp   int64
}

const (
	// TagWorkerID is the tag key carrying the generating worker's id.
	TagWorkerID = "id"

	// FieldTemperature is the synthetic payload field.
	FieldTemperature = "temperature"
)

// NewRecord builds the benchmark record for one worker and sequence number.
//
// The rendered form is `measurement,id=<worker> temperature=<payload>i <timestamp>`.
func NewRecord(measurement string, workerID int, timestamp int64, payload int64) Record {
	return Record{
		Measurement: measurement,
		Tags:        []Tag{{Key: TagWorkerID, Value: strconv.Itoa(workerID)}},
		Fields:      []Field{{Key: FieldTemperature, Value: payload}},
		Timestamp:   timestamp,
	}
}

// Time returns the record timestamp interpreted as nanoseconds since the epoch.
func (r Record) Time() time.Time {
	return time.Unix(0, r.Timestamp)
}

// TagMap returns the tags as a map, as expected by structured client APIs.
func (r Record) TagMap() map[string]string {
	m := make(map[string]string, len(r.Tags))
	for _, t := range r.Tags {
		m[t.Key] = t.Value
	}
	return m
}

// FieldMap returns the fields as a map, as expected by structured client APIs.
func (r Record) FieldMap() map[string]interface{} {
	m := make(map[string]interface{}, len(r.Fields))
	for _, f := range r.Fields {
		m[f.Key] = f.Value
	}
	return m
}

// Tag returns the value of the named tag and whether it was present.
func (r Record) Tag(key string) (string, bool) {
	for _, t := range r.Tags {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}

// LineProtocol renders the record as a single line-protocol line without a
// trailing newline.
func (r Record) LineProtocol() string {
	var sb strings.Builder
	sb.Grow(len(r.Measurement) + 32*(len(r.Tags)+len(r.Fields)) + 20)
	r.appendLine(&sb)
	return sb.String()
}

// AppendLineProtocol appends the line-protocol form plus a newline to buf.
func (r Record) AppendLineProtocol(buf []byte) []byte {
	return append(append(buf, r.LineProtocol()...), '\n')
}

func (r Record) appendLine(sb *strings.Builder) {
	sb.WriteString(escape.String(r.Measurement))
	for _, t := range r.Tags {
		sb.WriteByte(',')
		sb.WriteString(escape.String(t.Key))
		sb.WriteByte('=')
		sb.WriteString(escape.String(t.Value))
	}

	for i, f := range r.Fields {
		if i == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteByte(',')
		}
		sb.WriteString(escape.String(f.Key))
		sb.WriteByte('=')
		sb.WriteString(formatFieldValue(f.Value))
	}

	sb.WriteByte(' ')
	sb.WriteString(strconv.FormatInt(r.Timestamp, 10))
}

func formatFieldValue(v interface{}) string {
	switch val := v.(type) {
	case int64:
		return strconv.FormatInt(val, 10) + "i"
	case int:
		return strconv.Itoa(val) + "i"
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case string:
		return `"` + stringFieldEscaper.Replace(val) + `"`
	default:
		return `""`
	}
}

var stringFieldEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)
