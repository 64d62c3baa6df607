// Package query defines the closed set of telemetry query codes and the input
// state machine that admits only those codes from the console.
package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Code identifies one whitelisted telemetry query, or the Exit sentinel.
type Code int

const (
	FridgeMoisture   Code = 1 // Average moisture inside the kitchen fridge over the past three hours
	DishwasherWater  Code = 2 // Average water consumption per cycle of the smart dishwasher
	TopPowerConsumer Code = 3 // Device that consumed the most electricity
	Exit             Code = 4 // Terminates the session; never sent to the peer
)

// Processable lists the codes that may be transmitted, in menu order.
var Processable = []Code{FridgeMoisture, DishwasherWater, TopPowerConsumer}

var descriptions = map[Code]string{
	FridgeMoisture:   "What is the average moisture inside my kitchen fridge in the past three hours?",
	DishwasherWater:  "What is the average water consumption per cycle in my smart dishwasher?",
	TopPowerConsumer: "Which device consumed more electricity among my three IoT devices (two refrigerators and a dishwasher)?",
}

// Parse maps the trimmed input to a Code. Only "1", "2", "3" and "4" are
// accepted; anything else, including "01" or "+1", is rejected.
//
// Parameters:
//   - raw: One line of console input
//
// Returns:
//   - The matching Code
//   - false if raw is not in the closed set
func Parse(raw string) (Code, bool) {
	switch strings.TrimSpace(raw) {
	case "1":
		return FridgeMoisture, true
	case "2":
		return DishwasherWater, true
	case "3":
		return TopPowerConsumer, true
	case "4":
		return Exit, true
	default:
		return 0, false
	}
}

// String returns the wire token for the code, e.g. "1".
func (c Code) String() string {
	return strconv.Itoa(int(c))
}

// Bytes returns the UTF-8 payload sent to the peer for this code.
func (c Code) Bytes() []byte {
	return []byte(c.String())
}

// IsExit reports whether c is the terminate sentinel.
func (c Code) IsExit() bool {
	return c == Exit
}

// IsProcessable reports whether c may be sent to the peer.
func (c Code) IsProcessable() bool {
	_, ok := descriptions[c]
	return ok
}

// Description returns the natural-language question behind the code.
func (c Code) Description() string {
	if c == Exit {
		return "Exit"
	}

	return descriptions[c]
}

// Menu returns the list of selectable queries shown after connecting.
func Menu() string {
	var b strings.Builder
	b.WriteString("Please select one of the three options by typing only the number \n\n")
	for _, c := range Processable {
		fmt.Fprintf(&b, "Type '%s' for: %s \n\n", c, c.Description())
	}

	return b.String()
}
