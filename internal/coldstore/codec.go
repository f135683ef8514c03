package coldstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pharos-dev/pharos/internal/telemetry/model"
)

// Batch layout: a 6-byte header (magic, version, signal) followed by a
// zstd-compressed column-major body. Each column is stored contiguously in
// its schema position: strings as uvarint-length-prefixed bytes, timestamps
// as unix-nano int64, values as float64 bits.
var batchMagic = [4]byte{'P', 'H', 'C', 'B'}

const codecVersion = 1

var (
	ErrBadMagic          = errors.New("not a columnar batch object")
	ErrVersionMismatch   = errors.New("unsupported columnar batch version")
	ErrSignalMismatch    = errors.New("columnar batch signal does not match")
	ErrTruncatedBatch    = errors.New("truncated columnar batch")
	errUnsupportedSignal = errors.New("unsupported signal type")
)

func signalByte(signal model.Signal) (byte, error) {
	switch signal {
	case model.SignalLogs:
		return 0, nil
	case model.SignalSpans:
		return 1, nil
	case model.SignalMetrics:
		return 2, nil
	default:
		return 0, fmt.Errorf("%w: %s", errUnsupportedSignal, signal)
	}
}

// EncodeLogs writes the fixed log column schema: id, timestamp, trace id,
// span id, project id, session id, user id, service, level, message,
// attributes as serialized text.
func EncodeLogs(entries []model.LogEntry) ([]byte, error) {
	enc := newEncoder(len(entries))
	for _, e := range entries {
		enc.stringCol(e.Id)
	}
	for _, e := range entries {
		enc.timeCol(e.Timestamp)
	}
	for _, e := range entries {
		enc.stringCol(e.Envelope.TraceID)
	}
	for _, e := range entries {
		enc.stringCol(e.Envelope.SpanID)
	}
	for _, e := range entries {
		enc.stringCol(e.Envelope.ProjectID)
	}
	for _, e := range entries {
		enc.stringCol(e.Envelope.SessionID)
	}
	for _, e := range entries {
		enc.stringCol(e.Envelope.UserID)
	}
	for _, e := range entries {
		enc.stringCol(e.Envelope.Service)
	}
	for _, e := range entries {
		enc.stringCol(string(e.Level))
	}
	for _, e := range entries {
		enc.stringCol(e.Message)
	}
	for _, e := range entries {
		text, err := attributesText(e.Attributes)
		if err != nil {
			return nil, err
		}
		enc.stringCol(text)
	}
	return enc.finish(model.SignalLogs)
}

func DecodeLogs(data []byte) ([]model.LogEntry, error) {
	dec, count, err := newDecoder(data, model.SignalLogs)
	if err != nil {
		return nil, err
	}
	entries := make([]model.LogEntry, count)
	for i := range entries {
		entries[i].Id = dec.stringCol()
	}
	for i := range entries {
		entries[i].Timestamp = dec.timeCol()
	}
	for i := range entries {
		entries[i].Envelope.TraceID = dec.stringCol()
	}
	for i := range entries {
		entries[i].Envelope.SpanID = dec.stringCol()
	}
	for i := range entries {
		entries[i].Envelope.ProjectID = dec.stringCol()
	}
	for i := range entries {
		entries[i].Envelope.SessionID = dec.stringCol()
	}
	for i := range entries {
		entries[i].Envelope.UserID = dec.stringCol()
	}
	for i := range entries {
		entries[i].Envelope.Service = dec.stringCol()
	}
	for i := range entries {
		entries[i].Level = model.Level(dec.stringCol())
	}
	for i := range entries {
		entries[i].Message = dec.stringCol()
	}
	for i := range entries {
		attributes, err := attributesFromText(dec.stringCol())
		if err != nil {
			return nil, err
		}
		entries[i].Attributes = attributes
	}
	if dec.err != nil {
		return nil, dec.err
	}
	return entries, nil
}

// EncodeSpans writes the span column schema: id, trace id, span id, parent
// span id, operation, start, end, status, project id, session id, user id,
// service, attributes and events as serialized text.
func EncodeSpans(spans []model.Span) ([]byte, error) {
	enc := newEncoder(len(spans))
	for _, sp := range spans {
		enc.stringCol(sp.Id)
	}
	for _, sp := range spans {
		enc.stringCol(sp.TraceID)
	}
	for _, sp := range spans {
		enc.stringCol(sp.SpanID)
	}
	for _, sp := range spans {
		enc.stringCol(sp.ParentSpanID)
	}
	for _, sp := range spans {
		enc.stringCol(sp.Operation)
	}
	for _, sp := range spans {
		enc.timeCol(sp.StartTime)
	}
	for _, sp := range spans {
		enc.timeCol(sp.EndTime)
	}
	for _, sp := range spans {
		enc.stringCol(string(sp.Status))
	}
	for _, sp := range spans {
		enc.stringCol(sp.Envelope.ProjectID)
	}
	for _, sp := range spans {
		enc.stringCol(sp.Envelope.SessionID)
	}
	for _, sp := range spans {
		enc.stringCol(sp.Envelope.UserID)
	}
	for _, sp := range spans {
		enc.stringCol(sp.Envelope.Service)
	}
	for _, sp := range spans {
		text, err := attributesText(sp.Attributes)
		if err != nil {
			return nil, err
		}
		enc.stringCol(text)
	}
	for _, sp := range spans {
		text, err := eventsText(sp.Events)
		if err != nil {
			return nil, err
		}
		enc.stringCol(text)
	}
	return enc.finish(model.SignalSpans)
}

func DecodeSpans(data []byte) ([]model.Span, error) {
	dec, count, err := newDecoder(data, model.SignalSpans)
	if err != nil {
		return nil, err
	}
	spans := make([]model.Span, count)
	for i := range spans {
		spans[i].Id = dec.stringCol()
	}
	for i := range spans {
		spans[i].TraceID = dec.stringCol()
	}
	for i := range spans {
		spans[i].SpanID = dec.stringCol()
	}
	for i := range spans {
		spans[i].ParentSpanID = dec.stringCol()
	}
	for i := range spans {
		spans[i].Operation = dec.stringCol()
	}
	for i := range spans {
		spans[i].StartTime = dec.timeCol()
	}
	for i := range spans {
		spans[i].EndTime = dec.timeCol()
	}
	for i := range spans {
		spans[i].Status = model.SpanStatus(dec.stringCol())
	}
	for i := range spans {
		spans[i].Envelope.ProjectID = dec.stringCol()
	}
	for i := range spans {
		spans[i].Envelope.SessionID = dec.stringCol()
	}
	for i := range spans {
		spans[i].Envelope.UserID = dec.stringCol()
	}
	for i := range spans {
		spans[i].Envelope.Service = dec.stringCol()
	}
	for i := range spans {
		attributes, err := attributesFromText(dec.stringCol())
		if err != nil {
			return nil, err
		}
		spans[i].Attributes = attributes
	}
	for i := range spans {
		events, err := eventsFromText(dec.stringCol())
		if err != nil {
			return nil, err
		}
		spans[i].Events = events
	}
	if dec.err != nil {
		return nil, dec.err
	}
	for i := range spans {
		spans[i].Envelope.TraceID = spans[i].TraceID
		spans[i].Envelope.SpanID = spans[i].SpanID
	}
	return spans, nil
}

// EncodeSamples writes the metric column schema: id, series id, timestamp,
// value, project id, service. Series identity stays in the hot store and is
// referenced by id only.
func EncodeSamples(samples []model.MetricSample) ([]byte, error) {
	enc := newEncoder(len(samples))
	for _, sample := range samples {
		enc.int64Col(sample.Id)
	}
	for _, sample := range samples {
		enc.int64Col(sample.SeriesId)
	}
	for _, sample := range samples {
		enc.timeCol(sample.Timestamp)
	}
	for _, sample := range samples {
		enc.float64Col(sample.Value)
	}
	for _, sample := range samples {
		enc.stringCol(sample.Envelope.ProjectID)
	}
	for _, sample := range samples {
		enc.stringCol(sample.Envelope.Service)
	}
	return enc.finish(model.SignalMetrics)
}

func DecodeSamples(data []byte) ([]model.MetricSample, error) {
	dec, count, err := newDecoder(data, model.SignalMetrics)
	if err != nil {
		return nil, err
	}
	samples := make([]model.MetricSample, count)
	for i := range samples {
		samples[i].Id = dec.int64Col()
	}
	for i := range samples {
		samples[i].SeriesId = dec.int64Col()
	}
	for i := range samples {
		samples[i].Timestamp = dec.timeCol()
	}
	for i := range samples {
		samples[i].Value = dec.float64Col()
	}
	for i := range samples {
		samples[i].Envelope.ProjectID = dec.stringCol()
	}
	for i := range samples {
		samples[i].Envelope.Service = dec.stringCol()
	}
	if dec.err != nil {
		return nil, dec.err
	}
	return samples, nil
}

type encoder struct {
	body    bytes.Buffer
	scratch [binary.MaxVarintLen64]byte
	rows    int
}

func newEncoder(rows int) *encoder {
	enc := &encoder{rows: rows}
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(rows))
	enc.body.Write(count[:])
	return enc
}

func (enc *encoder) stringCol(value string) {
	n := binary.PutUvarint(enc.scratch[:], uint64(len(value)))
	enc.body.Write(enc.scratch[:n])
	enc.body.WriteString(value)
}

func (enc *encoder) int64Col(value int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(value))
	enc.body.Write(buf[:])
}

func (enc *encoder) timeCol(value time.Time) {
	enc.int64Col(value.UnixNano())
}

func (enc *encoder) float64Col(value float64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(value))
	enc.body.Write(buf[:])
}

func (enc *encoder) finish(signal model.Signal) ([]byte, error) {
	sb, err := signalByte(signal)
	if err != nil {
		return nil, err
	}
	writer, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	defer writer.Close()
	out := make([]byte, 0, 6+enc.body.Len()/2)
	out = append(out, batchMagic[:]...)
	out = append(out, codecVersion, sb)
	out = writer.EncodeAll(enc.body.Bytes(), out)
	return out, nil
}

type decoder struct {
	data []byte
	pos  int
	err  error
}

func newDecoder(data []byte, signal model.Signal) (*decoder, int, error) {
	if len(data) < 6 {
		return nil, 0, ErrTruncatedBatch
	}
	if !bytes.Equal(data[:4], batchMagic[:]) {
		return nil, 0, ErrBadMagic
	}
	if data[4] != codecVersion {
		return nil, 0, fmt.Errorf("%w: %d", ErrVersionMismatch, data[4])
	}
	expected, err := signalByte(signal)
	if err != nil {
		return nil, 0, err
	}
	if data[5] != expected {
		return nil, 0, ErrSignalMismatch
	}
	reader, err := zstd.NewReader(nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer reader.Close()
	body, err := reader.DecodeAll(data[6:], nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decompress columnar batch: %w", err)
	}
	if len(body) < 4 {
		return nil, 0, ErrTruncatedBatch
	}
	count := int(binary.BigEndian.Uint32(body[:4]))
	// Every row occupies at least one body byte per column, so a count larger
	// than the remaining body is corrupt. Reject it before allocating rows.
	if count > len(body)-4 {
		return nil, 0, ErrTruncatedBatch
	}
	return &decoder{data: body, pos: 4}, count, nil
}

func (dec *decoder) stringCol() string {
	if dec.err != nil {
		return ""
	}
	length, n := binary.Uvarint(dec.data[dec.pos:])
	if n <= 0 {
		dec.err = ErrTruncatedBatch
		return ""
	}
	dec.pos += n
	end := dec.pos + int(length)
	if end > len(dec.data) {
		dec.err = ErrTruncatedBatch
		return ""
	}
	value := string(dec.data[dec.pos:end])
	dec.pos = end
	return value
}

func (dec *decoder) int64Col() int64 {
	if dec.err != nil {
		return 0
	}
	if dec.pos+8 > len(dec.data) {
		dec.err = ErrTruncatedBatch
		return 0
	}
	value := int64(binary.BigEndian.Uint64(dec.data[dec.pos : dec.pos+8]))
	dec.pos += 8
	return value
}

func (dec *decoder) timeCol() time.Time {
	nanos := dec.int64Col()
	if dec.err != nil {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}

func (dec *decoder) float64Col() float64 {
	if dec.err != nil {
		return 0
	}
	if dec.pos+8 > len(dec.data) {
		dec.err = ErrTruncatedBatch
		return 0
	}
	value := math.Float64frombits(binary.BigEndian.Uint64(dec.data[dec.pos : dec.pos+8]))
	dec.pos += 8
	return value
}

func attributesText(attributes map[string]string) (string, error) {
	if len(attributes) == 0 {
		return "", nil
	}
	data, err := json.Marshal(attributes)
	if err != nil {
		return "", fmt.Errorf("failed to serialize attributes: %w", err)
	}
	return string(data), nil
}

func attributesFromText(text string) (map[string]string, error) {
	if text == "" {
		return nil, nil
	}
	var attributes map[string]string
	if err := json.Unmarshal([]byte(text), &attributes); err != nil {
		return nil, fmt.Errorf("failed to parse serialized attributes: %w", err)
	}
	return attributes, nil
}

func eventsText(events []model.SpanEvent) (string, error) {
	if len(events) == 0 {
		return "", nil
	}
	data, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("failed to serialize span events: %w", err)
	}
	return string(data), nil
}

func eventsFromText(text string) ([]model.SpanEvent, error) {
	if text == "" {
		return nil, nil
	}
	var events []model.SpanEvent
	if err := json.Unmarshal([]byte(text), &events); err != nil {
		return nil, fmt.Errorf("failed to parse serialized span events: %w", err)
	}
	return events, nil
}
