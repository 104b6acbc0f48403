// Package codec converts presence events to and from websocket text frames.
//
// Two formats are understood on decode so older plugins keep working:
//
//	delimited: reviewerUsername===alice;line===42
//	envelope:  {"type":"LINE_CHANGE","reviewerUsername":"alice","data":{"line":42},"timestamp":1700000000000}
//
// The encode format is a per-client setting and is never negotiated, so a
// deployment must keep its clients on a format every peer can read.
package codec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"platform-sync/internal/models"
)

// Format selects the outbound encoding.
type Format int

const (
	FormatEnvelope Format = iota
	FormatDelimited
)

// DefaultFormat is what new deployments should encode with.
const DefaultFormat = FormatEnvelope

const (
	pairSeparator = ";"
	keySeparator  = "==="
)

func (f Format) String() string {
	if f == FormatDelimited {
		return "delimited"
	}
	return "envelope"
}

// ParseFormat maps a config value to a Format. Empty selects DefaultFormat.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "envelope", "json", "structured":
		return FormatEnvelope, nil
	case "delimited", "legacy":
		return FormatDelimited, nil
	}
	return DefaultFormat, fmt.Errorf("unknown wire format %q", s)
}

// DecodeError reports a frame that could not be turned into a valid event.
// Callers log it and drop the frame; the connection stays open.
type DecodeError struct {
	Format string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s frame: %s: %v", e.Format, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %s frame: %s", e.Format, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode renders ev in the given format.
func Encode(ev models.PresenceEvent, f Format) ([]byte, error) {
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if f == FormatDelimited {
		return encodeDelimited(ev)
	}
	// Decode routes any frame containing the key separator to the delimited
	// parser, so an envelope must not carry it either.
	for _, v := range []string{ev.ReviewerID, ev.Path} {
		if strings.Contains(v, keySeparator) {
			return nil, fmt.Errorf("encode: value %q cannot be represented in envelope format", v)
		}
	}
	return encodeEnvelope(ev)
}

// Decode parses a frame in either format. A frame containing the key
// separator is treated as delimited, anything else as an envelope.
func Decode(frame []byte) (models.PresenceEvent, error) {
	s := string(frame)
	if strings.Contains(s, keySeparator) {
		return decodeDelimited(s)
	}
	return decodeEnvelope(frame)
}

// ---- delimited ----

func encodeDelimited(ev models.PresenceEvent) ([]byte, error) {
	for _, v := range []string{ev.ReviewerID, ev.Path} {
		if strings.Contains(v, pairSeparator) || strings.Contains(v, keySeparator) {
			return nil, fmt.Errorf("encode: value %q cannot be represented in delimited format", v)
		}
	}

	var b strings.Builder
	b.WriteString("reviewerUsername" + keySeparator + ev.ReviewerID)
	b.WriteString(pairSeparator)
	if ev.Kind == models.PathChanged {
		b.WriteString("path" + keySeparator + ev.Path)
	} else {
		b.WriteString("line" + keySeparator + strconv.Itoa(ev.Line))
	}
	if !ev.Timestamp.IsZero() {
		b.WriteString(pairSeparator)
		b.WriteString("timestamp" + keySeparator + strconv.FormatInt(ev.Timestamp.UnixMilli(), 10))
	}
	return []byte(b.String()), nil
}

func decodeDelimited(s string) (models.PresenceEvent, error) {
	fields := make(map[string]string)
	for _, part := range strings.Split(s, pairSeparator) {
		idx := strings.Index(part, keySeparator)
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(part[:idx])
		value := part[idx+len(keySeparator):]
		if key == "" || value == "" {
			continue
		}
		fields[key] = value
	}

	ev := models.PresenceEvent{ReviewerID: firstNonEmpty(fields["reviewerUsername"], fields["username"])}
	path := firstNonEmpty(fields["path"], fields["filePath"])
	line, hasLine := fields["line"]

	switch {
	case path != "" && hasLine:
		return models.PresenceEvent{}, &DecodeError{Format: "delimited", Reason: "both path and line present"}
	case path != "":
		ev.Kind = models.PathChanged
		ev.Path = path
	case hasLine:
		n, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			return models.PresenceEvent{}, &DecodeError{Format: "delimited", Reason: "bad line", Err: err}
		}
		ev.Kind = models.LineChanged
		ev.Line = n
	default:
		return models.PresenceEvent{}, &DecodeError{Format: "delimited", Reason: "no path or line"}
	}

	ev.Timestamp = parseMillis(fields["timestamp"])

	if err := ev.Validate(); err != nil {
		return models.PresenceEvent{}, &DecodeError{Format: "delimited", Reason: "invalid event", Err: err}
	}
	return ev, nil
}

// ---- envelope ----

const (
	typePathChange = "PATH_CHANGE"
	typeLineChange = "LINE_CHANGE"
)

type envelope struct {
	Type             string       `json:"type"`
	ReviewerUsername string       `json:"reviewerUsername,omitempty"`
	Data             envelopeData `json:"data"`
	Timestamp        int64        `json:"timestamp,omitempty"`
}

// envelopeData covers both payload shapes seen in the field: {path, line}
// from the newer plugins and {username, filePath, line} from the older ones.
type envelopeData struct {
	Username string  `json:"username,omitempty"`
	Path     *string `json:"path,omitempty"`
	FilePath *string `json:"filePath,omitempty"`
	Line     *int    `json:"line,omitempty"`
}

func encodeEnvelope(ev models.PresenceEvent) ([]byte, error) {
	env := envelope{ReviewerUsername: ev.ReviewerID}
	if ev.Kind == models.PathChanged {
		env.Type = typePathChange
		p := ev.Path
		env.Data.Path = &p
	} else {
		env.Type = typeLineChange
		l := ev.Line
		env.Data.Line = &l
	}
	if !ev.Timestamp.IsZero() {
		env.Timestamp = ev.Timestamp.UnixMilli()
	}
	return json.Marshal(env)
}

func decodeEnvelope(frame []byte) (models.PresenceEvent, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return models.PresenceEvent{}, &DecodeError{Format: "envelope", Reason: "malformed json", Err: err}
	}

	var path *string
	if env.Data.Path != nil {
		path = env.Data.Path
	} else {
		path = env.Data.FilePath
	}

	kind, err := envelopeKind(env.Type, path != nil, env.Data.Line != nil)
	if err != nil {
		return models.PresenceEvent{}, &DecodeError{Format: "envelope", Reason: err.Error()}
	}

	ev := models.PresenceEvent{
		ReviewerID: firstNonEmpty(env.ReviewerUsername, env.Data.Username),
		Kind:       kind,
	}
	// Older plugins send {type: "path"|"line"} with a shared data object that
	// may hold both fields; the type alone selects the value there.
	lenient := env.Type == "path" || env.Type == "line"
	switch kind {
	case models.PathChanged:
		if env.Data.Line != nil && !lenient {
			return models.PresenceEvent{}, &DecodeError{Format: "envelope", Reason: "path event carries a line"}
		}
		ev.Path = *path
	case models.LineChanged:
		if path != nil && !lenient {
			return models.PresenceEvent{}, &DecodeError{Format: "envelope", Reason: "line event carries a path"}
		}
		ev.Line = *env.Data.Line
	}

	if env.Timestamp > 0 {
		ev.Timestamp = time.UnixMilli(env.Timestamp)
	} else {
		ev.Timestamp = time.Now()
	}

	if err := ev.Validate(); err != nil {
		return models.PresenceEvent{}, &DecodeError{Format: "envelope", Reason: "invalid event", Err: err}
	}
	return ev, nil
}

func envelopeKind(typ string, hasPath, hasLine bool) (models.Kind, error) {
	switch typ {
	case typePathChange, "path":
		if !hasPath {
			return models.KindUnknown, fmt.Errorf("%s without path", typ)
		}
		return models.PathChanged, nil
	case typeLineChange, "line":
		if !hasLine {
			return models.KindUnknown, fmt.Errorf("%s without line", typ)
		}
		return models.LineChanged, nil
	case "":
		switch {
		case hasPath && !hasLine:
			return models.PathChanged, nil
		case hasLine && !hasPath:
			return models.LineChanged, nil
		}
		return models.KindUnknown, fmt.Errorf("untyped frame must carry exactly one of path or line")
	}
	return models.KindUnknown, fmt.Errorf("unknown type %q", typ)
}

// ---- helpers ----

func parseMillis(s string) time.Time {
	if s == "" {
		return time.Now()
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
