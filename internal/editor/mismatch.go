package editor

import (
	"errors"
	"fmt"
	"strings"
)

// Mismatch is a structured edit failure. Its message is written for the
// model: it names the layers tried, shows the closest candidate region, and
// asks for a corrected block.
type Mismatch struct {
	Search  string
	Reason  string
	Closest string
	Layers  []MatchLayer
	Resend  bool
}

func (m *Mismatch) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "edit failed: %s", m.Reason)
	if len(m.Layers) > 0 {
		names := make([]string, len(m.Layers))
		for i, l := range m.Layers {
			names[i] = string(l)
		}
		fmt.Fprintf(&b, " (tried %s matching)", strings.Join(names, ", "))
	}
	if m.Closest != "" {
		fmt.Fprintf(&b, "\n\nClosest region in the file:\n%s", m.Closest)
	}
	if m.Resend {
		b.WriteString("\n\nRe-send the edit with a search block copied exactly from the file above.")
	}
	return b.String()
}

// IsMismatch reports whether err wraps a Mismatch.
func IsMismatch(err error) bool {
	var m *Mismatch
	return errors.As(err, &m)
}
