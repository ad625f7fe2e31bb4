// Package stdio implements the line-oriented command/event protocol the
// surrounding gateway process speaks to the engine over stdin/stdout: one
// command per input line, one NDJSON event object per output line.
//
// Grounded on gurre-prime-fix-md-go/fixclient/repl.go's read-line,
// tokenize, dispatch-by-first-word shape and parser.go's single-pass
// segment tokenizing discipline, adapted from FIX-admin commands to the
// three commands this engine accepts.
package stdio

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tradecore/engine/pkg/money"
	"github.com/tradecore/engine/pkg/types"
)

// CommandKind tags which of the three stdin commands a parsed Command is.
type CommandKind string

const (
	CommandOrder  CommandKind = "order"
	CommandCancel CommandKind = "cancel"
	CommandQuery  CommandKind = "query"
)

// Command is one parsed stdin line.
type Command struct {
	Kind          CommandKind
	Side          types.Side
	Symbol        types.Symbol
	Qty           money.Decimal
	Price         money.Decimal
	ClientOrderID string
}

var clientOrderIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,36}$`)

// Parse tokenizes one stdin line into a Command. A ParseError is returned
// for malformed input; the caller emits an error event and keeps reading,
// it never kills the process.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, &ParseError{Reason: "empty line"}
	}

	switch strings.ToUpper(fields[0]) {
	case "ORDER":
		return parseOrder(fields)
	case "CANCEL":
		if len(fields) != 2 {
			return Command{}, &ParseError{Reason: "CANCEL requires exactly one argument"}
		}
		if !clientOrderIDPattern.MatchString(fields[1]) {
			return Command{}, &ParseError{Reason: fmt.Sprintf("invalid client_order_id %q", fields[1])}
		}
		return Command{Kind: CommandCancel, ClientOrderID: fields[1]}, nil
	case "QUERY":
		if len(fields) != 2 {
			return Command{}, &ParseError{Reason: "QUERY requires exactly one argument"}
		}
		if !clientOrderIDPattern.MatchString(fields[1]) {
			return Command{}, &ParseError{Reason: fmt.Sprintf("invalid client_order_id %q", fields[1])}
		}
		return Command{Kind: CommandQuery, ClientOrderID: fields[1]}, nil
	default:
		return Command{}, &ParseError{Reason: fmt.Sprintf("unrecognized command %q", fields[0])}
	}
}

func parseOrder(fields []string) (Command, error) {
	if len(fields) != 6 {
		return Command{}, &ParseError{Reason: "ORDER requires exactly 5 arguments: <BUY|SELL> <symbol> <qty> <price> <client_order_id>"}
	}

	var side types.Side
	switch strings.ToUpper(fields[1]) {
	case "BUY":
		side = types.Buy
	case "SELL":
		side = types.Sell
	default:
		return Command{}, &ParseError{Reason: fmt.Sprintf("side must be BUY or SELL, got %q", fields[1])}
	}

	qty, err := money.NewFromString(fields[3])
	if err != nil {
		return Command{}, &ParseError{Reason: fmt.Sprintf("invalid qty %q: %v", fields[3], err)}
	}
	price, err := money.NewFromString(fields[4])
	if err != nil {
		return Command{}, &ParseError{Reason: fmt.Sprintf("invalid price %q: %v", fields[4], err)}
	}

	clientOrderID := fields[5]
	if !clientOrderIDPattern.MatchString(clientOrderID) {
		return Command{}, &ParseError{Reason: fmt.Sprintf("invalid client_order_id %q", clientOrderID)}
	}

	return Command{
		Kind:          CommandOrder,
		Side:          side,
		Symbol:        types.Intern(strings.ToUpper(fields[2])),
		Qty:           qty,
		Price:         price,
		ClientOrderID: clientOrderID,
	}, nil
}

// ParseError reports a malformed stdin line.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "stdio: parse error: " + e.Reason }
