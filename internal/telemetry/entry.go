package telemetry

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Entry is one structured event held by the buffer from creation until
// drained. Labels are low-cardinality tags used for stream grouping;
// Line carries the full payload.
type Entry struct {
	Labels      map[string]string `json:"labels"`
	Line        string            `json:"line"`
	TimestampMs int64             `json:"ts"`
}

// NewEntry creates an entry stamped with the given time.
func NewEntry(labels map[string]string, line string, now time.Time) Entry {
	return Entry{
		Labels:      labels,
		Line:        line,
		TimestampMs: now.UnixMilli(),
	}
}

// Size estimates the serialized byte size of the entry. Falls back to
// a field-length sum when serialization fails.
func (e Entry) Size() int {
	data, err := json.Marshal(e)
	if err == nil {
		return len(data)
	}

	size := len(e.Line)
	for k, v := range e.Labels {
		size += len(k) + len(v)
	}
	return size
}

// CanonicalLabels serializes a label map deterministically: keys
// sorted, rendered as {k="v",...}. Two structurally equal maps produce
// the same string regardless of insertion order.
func CanonicalLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(strconv.Quote(labels[k]))
	}
	sb.WriteByte('}')
	return sb.String()
}
