package session

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Console messages.
const (
	AddressPrompt     = "What is the IP address of the server: "
	PortPrompt        = "Port number: "
	ConnectedMessage  = "Connected to server."
	DisconnectMessage = "Server Disconnect"
	ClosedMessage     = "Connection closed."
	ResultsHeader     = "Fetching results... "
	ConnectFailedFmt  = "Unable to connect to server at %s."
)

// console writes user-facing text. Only short messages reach it; diagnostics
// go to the logger.
type console struct {
	out   io.Writer
	info  *color.Color
	warn  *color.Color
	reply *color.Color
}

func newConsole(out io.Writer, noColor bool) *console {
	c := &console{
		out:   out,
		info:  color.New(color.FgGreen),
		warn:  color.New(color.FgRed),
		reply: color.New(color.FgBlue),
	}

	if noColor {
		c.info.DisableColor()
		c.warn.DisableColor()
		c.reply.DisableColor()
	}

	return c
}

func (c *console) prompt(s string) {
	_, _ = fmt.Fprint(c.out, s)
}

func (c *console) plain(s string) {
	_, _ = fmt.Fprint(c.out, s)
}

func (c *console) status(s string) {
	_, _ = c.info.Fprintln(c.out, s)
}

func (c *console) problem(s string) {
	_, _ = c.warn.Fprintln(c.out, s)
}

func (c *console) result(s string) {
	_, _ = fmt.Fprintln(c.out, ResultsHeader)
	_, _ = c.reply.Fprintln(c.out, s)
}
