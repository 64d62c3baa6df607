package query

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/cyberinferno/iotquery/logger"
)

// InvalidInputMessage is printed every time input falls outside the closed set.
const InvalidInputMessage = "Invalid input. Please select '1', '2', '3', or '4' to EXIT."

// Prompt is printed before each query selection.
const Prompt = "Query to send (Enter '4' to quit): "

// State is the validator's position in its two-state machine.
type State int

const (
	AwaitingInput State = iota // No acceptable input seen yet
	Accepted                   // A code from the closed set was read
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case AwaitingInput:
		return "AwaitingInput"
	case Accepted:
		return "Accepted"
	default:
		return "Unknown"
	}
}

// Validator is the input state machine. Feed moves it to Accepted only for
// codes in the closed set; Reset returns it to AwaitingInput for the next turn.
type Validator struct {
	state    State
	code     Code
	rejected int
}

// NewValidator returns a Validator in AwaitingInput.
func NewValidator() *Validator {
	return &Validator{state: AwaitingInput}
}

// Feed offers one raw line to the machine. Input fed while Accepted is ignored
// until Reset.
//
// Parameters:
//   - raw: One line of console input
//
// Returns:
//   - The accepted Code and true on transition to Accepted
//   - Zero and false if the machine stays in AwaitingInput
func (v *Validator) Feed(raw string) (Code, bool) {
	if v.state == Accepted {
		return v.code, true
	}

	code, ok := Parse(raw)
	if !ok {
		v.rejected++
		return 0, false
	}

	v.state = Accepted
	v.code = code
	return code, true
}

// Reset returns the machine to AwaitingInput.
func (v *Validator) Reset() {
	v.state = AwaitingInput
	v.code = 0
}

// State returns the current state.
func (v *Validator) State() State {
	return v.state
}

// Rejected returns how many inputs have been rejected since creation.
func (v *Validator) Rejected() int {
	return v.rejected
}

// Prompter reads console lines until the Validator accepts one.
type Prompter struct {
	in        *bufio.Scanner
	out       io.Writer
	log       logger.Logger
	validator *Validator
}

// NewPrompter creates a Prompter over the given console streams.
//
// Parameters:
//   - in: Console input, read line by line
//   - out: Console output for prompts and warnings
//   - log: Logger for rejected input
//
// Returns:
//   - A new *Prompter
func NewPrompter(in io.Reader, out io.Writer, log logger.Logger) *Prompter {
	return &Prompter{
		in:        bufio.NewScanner(in),
		out:       out,
		log:       log,
		validator: NewValidator(),
	}
}

// NewPrompterFromScanner is like NewPrompter but shares an existing scanner,
// so lines buffered by an earlier reader are not lost.
func NewPrompterFromScanner(in *bufio.Scanner, out io.Writer, log logger.Logger) *Prompter {
	return &Prompter{
		in:        in,
		out:       out,
		log:       log,
		validator: NewValidator(),
	}
}

// Next prompts until an acceptable code is entered. There is no retry limit.
// End of input is treated as the Exit sentinel.
//
// Returns:
//   - The accepted Code
//   - An error if reading the console fails
func (p *Prompter) Next() (Code, error) {
	p.validator.Reset()

	for {
		if _, err := fmt.Fprint(p.out, Prompt); err != nil {
			return 0, err
		}

		if !p.in.Scan() {
			err := p.in.Err()
			if err == nil || errors.Is(err, io.EOF) {
				p.log.Debug("console input closed, treating as exit")
				return Exit, nil
			}

			return 0, fmt.Errorf("failed to read query: %w", err)
		}

		line := p.in.Text()
		if code, ok := p.validator.Feed(line); ok {
			return code, nil
		}

		p.log.Debug("rejected query input", logger.Field{Key: "input", Value: line})
		if _, err := fmt.Fprintf(p.out, "%s\n\n", InvalidInputMessage); err != nil {
			return 0, err
		}
	}
}

// Rejected returns how many inputs this Prompter has rejected.
func (p *Prompter) Rejected() int {
	return p.validator.Rejected()
}
