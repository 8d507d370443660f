// Package replay re-orders JSONL event logs deterministically and produces
// a drift report: two replays of the same log must yield the same event
// sequence and the same digests, or the diagnostics say why not.
package replay

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Drift codes attached to the report.
const (
	DriftParseErrors    = "DRIFT_PARSE_ERRORS"
	DriftMissingTSHigh  = "DRIFT_MISSING_TS_HIGH"
	DriftMissingTSSome  = "DRIFT_MISSING_TS_SOME"
	DriftMissingSeqHigh = "DRIFT_MISSING_SEQ_HIGH"
	DriftMissingSeqSome = "DRIFT_MISSING_SEQ_SOME"
)

// tsFields and seqFields are probed in order when building the sort key.
var (
	tsFields  = []string{"ts", "event_ts", "ingest_ts", "recv_ts", "time"}
	seqFields = []string{"seq", "event_id", "id", "rowid", "offset"}
)

// SortKey is the total event ordering key: epoch timestamp (missing -> 0),
// sequence-like id (missing -> line number), kind, then the original line
// number as a stable tie-break.
type SortKey struct {
	TSEpoch float64 `json:"ts_epoch"`
	Seq     int64   `json:"seq"`
	Kind    string  `json:"kind"`
	LineNo  int     `json:"line_no"`
}

// Less imposes the total order.
func (k SortKey) Less(o SortKey) bool {
	if k.TSEpoch != o.TSEpoch {
		return k.TSEpoch < o.TSEpoch
	}
	if k.Seq != o.Seq {
		return k.Seq < o.Seq
	}
	if k.Kind != o.Kind {
		return k.Kind < o.Kind
	}
	return k.LineNo < o.LineNo
}

// Event is one parsed log line with its key.
type Event struct {
	Key  SortKey
	Body map[string]any
}

// Report summarizes one replay run.
type Report struct {
	Replayed        int            `json:"replayed"`
	ParseErrors     int            `json:"parse_errors"`
	LogSHA256       string         `json:"log_sha256"`
	EventsSHA256    string         `json:"events_sha256"`
	MissingTS       int            `json:"missing_ts"`
	MissingSeq      int            `json:"missing_seq"`
	MissingTSRatio  float64        `json:"missing_ts_ratio"`
	MissingSeqRatio float64        `json:"missing_seq_ratio"`
	KindCounts      map[string]int `json:"kind_counts"`
	DriftCodes      []string       `json:"drift_codes,omitempty"`
}

func isoToEpoch(v any) (float64, bool) {
	s, ok := v.(string)
	if !ok {
		if f, ok := v.(float64); ok && f > 0 {
			return f, true
		}
		return 0, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return float64(t.UnixNano()) / 1e9, true
		}
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return float64(t.UnixNano()) / 1e9, true
		}
	}
	return 0, false
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		return int64(x), true
	case int:
		return int64(x), true
	case int64:
		return x, true
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// KeyFor builds the sort key for one event at lineNo.
func KeyFor(ev map[string]any, lineNo int) SortKey {
	key := SortKey{LineNo: lineNo, Seq: int64(lineNo)}
	for _, f := range tsFields {
		if v, ok := ev[f]; ok {
			if e, ok := isoToEpoch(v); ok {
				key.TSEpoch = e
			}
			break
		}
	}
	for _, f := range seqFields {
		if v, ok := ev[f]; ok {
			if n, ok := toInt(v); ok {
				key.Seq = n
			}
			break
		}
	}
	if k, ok := ev["kind"].(string); ok {
		key.Kind = k
	}
	return key
}

// ReplayFile parses a JSONL log, orders it by the total key, and returns
// the ordered events plus the drift report.
func ReplayFile(path string) ([]Event, *Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open replay log: %w", err)
	}
	defer f.Close()

	logHash := sha256.New()
	var events []Event
	parseErrors := 0

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		logHash.Write(line)
		logHash.Write([]byte("\n"))
		trimmed := strings.TrimSpace(string(line))
		if trimmed == "" {
			continue
		}
		var body map[string]any
		if err := json.Unmarshal([]byte(trimmed), &body); err != nil {
			parseErrors++
			continue
		}
		events = append(events, Event{Key: KeyFor(body, lineNo), Body: body})
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to scan replay log: %w", err)
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Key.Less(events[j].Key) })

	rep := buildReport(events, parseErrors)
	rep.LogSHA256 = hex.EncodeToString(logHash.Sum(nil))
	rep.EventsSHA256 = eventsDigest(events)
	return events, rep, nil
}

// eventsDigest hashes the canonicalized (sorted-key JSON) ordered stream.
func eventsDigest(events []Event) string {
	h := sha256.New()
	for _, ev := range events {
		b, err := canonicalJSON(ev.Body)
		if err != nil {
			continue
		}
		h.Write(b)
		h.Write([]byte("\n"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON marshals with sorted keys at every level.
func canonicalJSON(v any) ([]byte, error) {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			sb.Write(kb)
			sb.WriteByte(':')
			vb, err := canonicalJSON(x[k])
			if err != nil {
				return nil, err
			}
			sb.Write(vb)
		}
		sb.WriteByte('}')
		return []byte(sb.String()), nil
	case []any:
		var sb strings.Builder
		sb.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				sb.WriteByte(',')
			}
			eb, err := canonicalJSON(e)
			if err != nil {
				return nil, err
			}
			sb.Write(eb)
		}
		sb.WriteByte(']')
		return []byte(sb.String()), nil
	default:
		return json.Marshal(v)
	}
}

func buildReport(events []Event, parseErrors int) *Report {
	rep := &Report{
		Replayed:    len(events),
		ParseErrors: parseErrors,
		KindCounts:  map[string]int{},
	}
	for _, ev := range events {
		if ev.Key.TSEpoch == 0 {
			rep.MissingTS++
		}
		if ev.Key.Seq == int64(ev.Key.LineNo) {
			rep.MissingSeq++
		}
		rep.KindCounts[ev.Key.Kind]++
	}
	total := len(events)
	if total == 0 {
		total = 1
	}
	rep.MissingTSRatio = float64(rep.MissingTS) / float64(total)
	rep.MissingSeqRatio = float64(rep.MissingSeq) / float64(total)

	if parseErrors > 0 {
		rep.DriftCodes = append(rep.DriftCodes, DriftParseErrors)
	}
	switch {
	case rep.MissingTSRatio >= 0.5:
		rep.DriftCodes = append(rep.DriftCodes, DriftMissingTSHigh)
	case rep.MissingTSRatio > 0:
		rep.DriftCodes = append(rep.DriftCodes, DriftMissingTSSome)
	}
	switch {
	case rep.MissingSeqRatio >= 0.5:
		rep.DriftCodes = append(rep.DriftCodes, DriftMissingSeqHigh)
	case rep.MissingSeqRatio > 0:
		rep.DriftCodes = append(rep.DriftCodes, DriftMissingSeqSome)
	}
	return rep
}
