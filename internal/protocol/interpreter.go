package protocol

import (
	"encoding/json"
	"strings"
)

// Interpreter converts vendor JSON response payloads into an ordered stream
// of partial/final text events, deduplicating across overlapping utterance
// deliveries. State is mutable and must not be shared across sessions.
type Interpreter struct {
	mode               Mode
	lastCommittedEndMs int64
	lastFullText       string
}

// NewInterpreter returns an Interpreter primed for mode.
func NewInterpreter(mode Mode) *Interpreter {
	return &Interpreter{mode: mode, lastCommittedEndMs: -1}
}

type responseEnvelope struct {
	Result *responseResult `json:"result"`
}

type responseResult struct {
	Utterances []utterance `json:"utterances"`
	Text       string      `json:"text"`
}

type utterance struct {
	Definite bool   `json:"definite"`
	EndTime  int64  `json:"end_time"`
	Text     string `json:"text"`
}

// Result holds the events produced by one call to Interpret.
type Result struct {
	// Partial is the current in-progress utterance text, if any.
	Partial string
	HasPartial bool
	// Finals are newly-finalized utterances, in emission order.
	Finals []string
}

// Interpret runs the algorithm from spec §4.4 against one inbound response
// payload. Malformed JSON or a missing "result" field yields a zero Result,
// never an error — the session loop treats it as "no events this frame."
func (in *Interpreter) Interpret(payload []byte) Result {
	var envelope responseEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Result{}
	}
	if envelope.Result == nil {
		return Result{}
	}
	result := envelope.Result

	if result.Utterances != nil {
		return in.interpretUtterances(result.Utterances)
	}
	return in.interpretTextFallback(result.Text)
}

func (in *Interpreter) interpretUtterances(utterances []utterance) Result {
	var out Result

	for _, u := range utterances {
		if !u.Definite {
			continue
		}
		if u.EndTime <= in.lastCommittedEndMs {
			continue
		}
		trimmed := strings.TrimSpace(u.Text)
		if trimmed == "" {
			continue
		}
		out.Finals = append(out.Finals, trimmed)
		in.lastCommittedEndMs = u.EndTime
	}

	for i := len(utterances) - 1; i >= 0; i-- {
		u := utterances[i]
		if u.Definite {
			continue
		}
		trimmed := strings.TrimSpace(u.Text)
		if trimmed == "" {
			continue
		}
		out.Partial = trimmed
		out.HasPartial = true
		break
	}

	return out
}

func (in *Interpreter) interpretTextFallback(text string) Result {
	var out Result
	full := strings.TrimSpace(text)
	if full == "" {
		return out
	}

	switch {
	case in.mode == ModeBidiAsync:
		// The service revises aggressively in bidi_async mode: each
		// whole text doubles as both the partial preview and the
		// committed final. Intentional, even though it over-commits
		// revisions (spec §9 Open Questions).
		out.Partial = full
		out.HasPartial = true
		out.Finals = append(out.Finals, full)

	case in.lastFullText != "" && strings.HasPrefix(full, in.lastFullText):
		suffix := strings.TrimSpace(full[len(in.lastFullText):])
		if suffix != "" {
			out.Finals = append(out.Finals, suffix)
		}

	case full != in.lastFullText:
		out.Finals = append(out.Finals, full)
	}

	in.lastFullText = full
	return out
}
