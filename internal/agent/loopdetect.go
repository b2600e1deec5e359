package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"codeframe/internal/llm"
)

// loopTripCount is how many identical consecutive signatures trip the
// detector.
const loopTripCount = 3

// volatileArgKeys are argument keys excluded from tool-call signatures:
// they change on every call without changing what the call does.
var volatileArgKeys = map[string]bool{
	"id":         true,
	"call_id":    true,
	"request_id": true,
	"timestamp":  true,
	"time":       true,
	"nonce":      true,
}

// loopDetector watches the tool-call stream for the agent repeating itself.
// The first trip earns a correction; a second trip on the same signature
// means the correction did not land and the run escalates.
type loopDetector struct {
	lastSignature string
	repeats       int
	corrected     map[string]bool
}

func newLoopDetector() *loopDetector {
	return &loopDetector{corrected: map[string]bool{}}
}

// loopVerdict is the detector's reaction to one tool call.
type loopVerdict int

const (
	loopOK loopVerdict = iota
	// loopCorrect means inject a correction turn before continuing.
	loopCorrect
	// loopEscalate means the agent is stuck beyond correction.
	loopEscalate
)

// Observe records one tool call and returns the verdict.
func (d *loopDetector) Observe(call llm.ToolCall) loopVerdict {
	sig := toolCallSignature(call)
	if sig == d.lastSignature {
		d.repeats++
	} else {
		d.lastSignature = sig
		d.repeats = 1
	}
	if d.repeats < loopTripCount {
		return loopOK
	}
	// Reset the streak so the agent gets room to act on the correction.
	d.repeats = 0
	if d.corrected[sig] {
		return loopEscalate
	}
	d.corrected[sig] = true
	return loopCorrect
}

// toolCallSignature canonicalizes a tool call for repetition detection: tool
// name plus the argument object with volatile keys removed and keys sorted.
func toolCallSignature(call llm.ToolCall) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		// Unparseable arguments fall back to the raw string.
		return call.Name + "|" + strings.TrimSpace(call.Arguments)
	}
	for key := range args {
		if volatileArgKeys[strings.ToLower(key)] {
			delete(args, key)
		}
	}
	canonical := canonicalJSON(args)
	sum := sha256.Sum256([]byte(call.Name + "|" + canonical))
	return hex.EncodeToString(sum[:])
}

// canonicalJSON renders a value with sorted object keys.
func canonicalJSON(v any) string {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kj, _ := json.Marshal(k)
			b.Write(kj)
			b.WriteByte(':')
			b.WriteString(canonicalJSON(val[k]))
		}
		b.WriteByte('}')
		return b.String()
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(canonicalJSON(item))
		}
		b.WriteByte(']')
		return b.String()
	default:
		raw, _ := json.Marshal(val)
		return string(raw)
	}
}
