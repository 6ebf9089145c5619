package codec

import (
	"strconv"
	"strings"
)

// ReplyCode is an acknowledgment token sent in answer to a set request.
type ReplyCode string

const (
	CodeOK         ReplyCode = "#OK"
	CodeOutOfRange ReplyCode = "#OUR"
	CodeInvalid    ReplyCode = "??"
	CodeBusy       ReplyCode = "#BUSY"
	CodeRejected   ReplyCode = "#RJCT"
)

func (c ReplyCode) valid() bool {
	switch c {
	case CodeOK, CodeOutOfRange, CodeInvalid, CodeBusy, CodeRejected:
		return true
	default:
		return false
	}
}

// Reply is a decoded controller reply line. Exactly one of Code and Verb is set.
type Reply struct {
	// Code is set for acknowledgments.
	Code ReplyCode
	// Verb and Value are set for query replies.
	Verb  Verb
	Value string
}

// IsAck reports whether r is an acknowledgment.
func (r Reply) IsAck() bool { return r.Code != "" }

// OK reports whether r is a #OK acknowledgment.
func (r Reply) OK() bool { return r.Code == CodeOK }

// String re-encodes r, without terminator.
func (r Reply) String() string {
	if r.IsAck() {
		return string(r.Code)
	}

	return "#" + string(r.Verb) + " " + r.Value
}

// numericVerbs lists the verbs whose query reply carries a number and whether it is an integer.
var numericVerbs = map[Verb]bool{
	VerbWavelength:   false,
	VerbGrating:      true,
	VerbEntranceSlit: false,
	VerbExitSlit:     false,
	VerbStatus:       true,
}

// Decode decodes one reply line. Trailing CR/LF is ignored.
//
// It returns a *ProtocolError when the line is empty, carries an unknown tag, is truncated
// (a query tag without value) or carries a value that is not numeric.
func Decode(line string) (Reply, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Reply{}, protocolErr(line, "empty reply")
	}

	fields := strings.Fields(trimmed)
	head := fields[0]

	if code := ReplyCode(head); code.valid() {
		if len(fields) != 1 {
			return Reply{}, protocolErr(line, "unexpected data after %s", code)
		}

		return Reply{Code: code}, nil
	}

	if !strings.HasPrefix(head, "#") || len(head) < 2 {
		return Reply{}, protocolErr(line, "unknown reply tag %q", head)
	}

	verb := Verb(head[1:])
	isInt, known := numericVerbs[verb]
	if !known {
		return Reply{}, protocolErr(line, "unknown reply tag %q", head)
	}

	if len(fields) != 2 {
		return Reply{}, protocolErr(line, "expected one value after %s, got %d", head, len(fields)-1)
	}

	value := fields[1]
	if isInt {
		if _, err := strconv.Atoi(value); err != nil {
			return Reply{}, protocolErr(line, "value %q is not an integer", value)
		}
	} else if _, err := ParseNumber(value); err != nil {
		return Reply{}, protocolErr(line, "value %q is not a number", value)
	}

	return Reply{Verb: verb, Value: value}, nil
}

// DecodeAck decodes the reply to a set request.
// It returns nil for #OK, a *ReplyError for other acknowledgments and a *ProtocolError otherwise.
func DecodeAck(request Command, line string) error {
	reply, err := Decode(line)
	if err != nil {
		return err
	}

	if !reply.IsAck() {
		return protocolErr(line, "expected acknowledgment to %s, got query reply", request)
	}

	if !reply.OK() {
		return &ReplyError{Code: reply.Code, Request: request.String()}
	}

	return nil
}

// DecodeFloat decodes the reply to a numeric query for verb.
func DecodeFloat(verb Verb, line string) (float64, error) {
	reply, err := decodeValue(verb, line)
	if err != nil {
		return 0, err
	}

	return ParseNumber(reply.Value)
}

// DecodeInt decodes the reply to an integer query for verb.
func DecodeInt(verb Verb, line string) (int, error) {
	reply, err := decodeValue(verb, line)
	if err != nil {
		return 0, err
	}

	return strconv.Atoi(reply.Value)
}

func decodeValue(verb Verb, line string) (Reply, error) {
	reply, err := Decode(line)
	if err != nil {
		return Reply{}, err
	}

	if reply.IsAck() {
		if reply.OK() {
			return Reply{}, protocolErr(line, "expected #%s value, got %s", verb, reply.Code)
		}

		return Reply{}, &ReplyError{Code: reply.Code, Request: Query(verb).String()}
	}

	if reply.Verb != verb {
		return Reply{}, protocolErr(line, "expected #%s value, got #%s", verb, reply.Verb)
	}

	return reply, nil
}

// EncodeAck returns the reply line for code, without terminator.
func EncodeAck(code ReplyCode) string {
	return string(code)
}

// EncodeFloat returns the query reply line for a numeric verb, without terminator.
func EncodeFloat(verb Verb, v float64) string {
	return "#" + string(verb) + " " + FormatNumber(v)
}

// EncodeInt returns the query reply line for an integer verb, without terminator.
func EncodeInt(verb Verb, v int) string {
	return "#" + string(verb) + " " + strconv.Itoa(v)
}
