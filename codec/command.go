package codec

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// Precision is the number of decimals used for every numeric argument and value.
	Precision = 3

	// Terminator ends every request line written to the controller.
	Terminator = "\r\n"
)

// Kind distinguishes set requests from queries.
type Kind byte

const (
	KindSet   Kind = '!'
	KindQuery Kind = '?'
)

// Verb names the controller quantity a request addresses.
type Verb string

const (
	VerbWavelength   Verb = "WL"
	VerbGrating      Verb = "GR"
	VerbEntranceSlit Verb = "ENS"
	VerbExitSlit     Verb = "EXS"
	VerbCalibrate    Verb = "CLW"
	VerbReset        Verb = "RST"
	VerbSetAll       Verb = "SET"
	VerbStatus       Verb = "SWST"
)

// Command is a single controller request.
type Command struct {
	Kind Kind
	Verb Verb
	Args []string
}

// SetWavelength builds "!WL <nm>".
func SetWavelength(nm float64) Command {
	return Command{Kind: KindSet, Verb: VerbWavelength, Args: []string{FormatNumber(nm)}}
}

// SelectGrating builds "!GR <id>".
func SelectGrating(id int) Command {
	return Command{Kind: KindSet, Verb: VerbGrating, Args: []string{strconv.Itoa(id)}}
}

// SetEntranceSlit builds "!ENS <mm>".
func SetEntranceSlit(mm float64) Command {
	return Command{Kind: KindSet, Verb: VerbEntranceSlit, Args: []string{FormatNumber(mm)}}
}

// SetExitSlit builds "!EXS <mm>".
func SetExitSlit(mm float64) Command {
	return Command{Kind: KindSet, Verb: VerbExitSlit, Args: []string{FormatNumber(mm)}}
}

// CalibrateWavelength builds "!CLW <nm>".
func CalibrateWavelength(nm float64) Command {
	return Command{Kind: KindSet, Verb: VerbCalibrate, Args: []string{FormatNumber(nm)}}
}

// ResetController builds "!RST 1".
func ResetController() Command {
	return Command{Kind: KindSet, Verb: VerbReset, Args: []string{"1"}}
}

// SetAll builds "!SET <nm> <grating> <entrance mm> <exit mm>".
func SetAll(nm float64, grating int, entrance, exit float64) Command {
	return Command{
		Kind: KindSet,
		Verb: VerbSetAll,
		Args: []string{FormatNumber(nm), strconv.Itoa(grating), FormatNumber(entrance), FormatNumber(exit)},
	}
}

// Query builds "?<verb>".
func Query(verb Verb) Command {
	return Command{Kind: KindQuery, Verb: verb}
}

// String returns the request line without terminator.
func (c Command) String() string {
	var sb strings.Builder
	sb.WriteByte(byte(c.Kind))
	sb.WriteString(string(c.Verb))
	for _, arg := range c.Args {
		sb.WriteByte(' ')
		sb.WriteString(arg)
	}

	return sb.String()
}

// Encode returns the request line including Terminator.
func (c Command) Encode() string {
	return c.String() + Terminator
}

// IsQuery reports whether c is a query request.
func (c Command) IsQuery() bool { return c.Kind == KindQuery }

// FloatArg parses argument i as a number.
func (c Command) FloatArg(i int) (float64, error) {
	if i >= len(c.Args) {
		return 0, fmt.Errorf("codec: %s has no argument %d", c.Verb, i)
	}

	return ParseNumber(c.Args[i])
}

// IntArg parses argument i as an integer.
func (c Command) IntArg(i int) (int, error) {
	if i >= len(c.Args) {
		return 0, fmt.Errorf("codec: %s has no argument %d", c.Verb, i)
	}

	return strconv.Atoi(c.Args[i])
}

// ParseCommand decodes a request line. Trailing CR/LF and surrounding blanks are ignored.
// Unknown verbs are not an error here; the receiver decides how to answer them.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if len(line) < 2 {
		return Command{}, fmt.Errorf("codec: request %q too short", line)
	}

	kind := Kind(line[0])
	if kind != KindSet && kind != KindQuery {
		return Command{}, fmt.Errorf("codec: request %q has no '!' or '?' marker", line)
	}

	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("codec: request %q has no verb", line)
	}

	cmd := Command{Kind: kind, Verb: Verb(fields[0])}
	if len(fields) > 1 {
		cmd.Args = fields[1:]
	}

	return cmd, nil
}

// FormatNumber formats v in fixed-point notation with Precision decimals.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', Precision, 64)
}

// ParseNumber parses a decimal number written by FormatNumber or by the controller.
func ParseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// Quantize rounds v to the precision used on the wire, so a value read back from the controller
// compares equal to the value that was sent.
func Quantize(v float64) float64 {
	q, err := ParseNumber(FormatNumber(v))
	if err != nil {
		return v
	}

	return q
}
