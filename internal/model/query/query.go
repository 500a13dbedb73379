package query

import (
	"errors"
	"fmt"
	"strings"
)

// Prefix is prepended to every query before it reaches a model.
const Prefix = "rewrite query:"

// ErrUnknownMode is returned when a mode string cannot be parsed.
var ErrUnknownMode = errors.New("unknown mode")

// Mode selects which generation backend handles a request.
type Mode string

const (
	ModeKeywords   Mode = "keywords"
	ModeSubqueries Mode = "subqueries"
)

// Modes lists the supported modes in display order.
var Modes = []Mode{ModeKeywords, ModeSubqueries}

// ParseMode accepts the canonical names plus the legacy numeric flags.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "keywords", "0":
		return ModeKeywords, nil
	case "subqueries", "sub-queries", "1":
		return ModeSubqueries, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, raw)
	}
}

// Label is the button caption for the mode, also used in audit lines.
func (m Mode) Label() string {
	switch m {
	case ModeKeywords:
		return "Extract keywords"
	case ModeSubqueries:
		return "Generate sub-queries"
	default:
		return string(m)
	}
}

// Request is a single button click.
type Request struct {
	Query string `json:"query"`
	Mode  Mode   `json:"mode"`
}

// Prompt returns the text fed to the model.
func (r Request) Prompt() string {
	return Prefix + r.Query
}

// Result is the structured outcome of one generation.
type Result struct {
	Mode Mode
	Text string
	Err  error
}

// OK reports whether the generation succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Display renders the result the way the page shows it; failures become
// "Error: <message>".
func (r Result) Display() string {
	if r.Err != nil {
		return "Error: " + r.Err.Error()
	}
	return r.Text
}
