package protocol

import (
	"encoding/csv"
	"io"
	"strconv"
)

// traceHeader is the fixed column schema of the CSV message trace. Fields
// that do not apply to a message kind render as empty strings.
var traceHeader = []string{
	"timestamp", "msg_type", "source", "destination", "latency", "size",
	"management", "topic", "broker", "optimal_broker", "data", "e2e_latency",
}

// CSVSink writes one trace row per sent message.
type CSVSink struct {
	w   *csv.Writer
	err error
}

// NewCSVSink writes the header row and returns the sink. Call Flush before
// closing the underlying writer.
func NewCSVSink(w io.Writer) (*CSVSink, error) {
	sink := &CSVSink{w: csv.NewWriter(w)}
	if err := sink.w.Write(traceHeader); err != nil {
		return nil, err
	}
	return sink, nil
}

// Record appends one row for the message. Write errors are sticky and
// surfaced by Flush.
func (s *CSVSink) Record(m Message) {
	if s.err != nil {
		return
	}

	env := m.Env()
	row := make([]string, len(traceHeader))
	row[0] = formatFloat(env.Timestamp)
	row[1] = m.Kind().String()
	row[2] = env.Source.Name
	row[3] = env.Destination.Name
	row[4] = formatFloat(env.Latency)
	row[5] = strconv.FormatInt(m.Size(), 10)
	row[6] = strconv.FormatBool(m.Management())

	switch msg := m.(type) {
	case *Sub:
		row[7] = msg.Topic
	case *Unsub:
		row[7] = msg.Topic
	case *Pub:
		row[7] = msg.Topic
		row[10] = msg.Data
		row[11] = formatFloat(msg.E2ELatency)
	case *ReconnectRequest:
		if msg.NewBroker != nil {
			row[8] = msg.NewBroker.Name
		}
		if msg.OptimalBroker != nil {
			row[9] = msg.OptimalBroker.Name
		}
	}

	s.err = s.w.Write(row)
}

// Flush writes buffered rows through and reports the first error seen.
func (s *CSVSink) Flush() error {
	s.w.Flush()
	if s.err != nil {
		return s.err
	}
	return s.w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
