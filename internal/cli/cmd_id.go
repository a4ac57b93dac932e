package cli

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/koltyakov/relink/internal/id"
)

func runID(args []string) int {
	fs := flag.NewFlagSet("id", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "id command error: at most one value")
		return 2
	}
	out, err := idCommand(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "id command error:", err)
		return 1
	}
	fmt.Println(out)
	return 0
}

// idCommand converts between the encoded and numeric forms of an ID, or
// generates a random one when no value is given. Uniqueness against a
// server is the business of `new`; this works offline.
func idCommand(value string) (string, error) {
	if value == "" {
		v, err := id.Random()
		if err != nil {
			return "", err
		}
		return v.String(), nil
	}
	if n, err := strconv.ParseUint(value, 10, 64); err == nil {
		v, err := id.FromUint64(n)
		if err != nil {
			return "", err
		}
		return v.String(), nil
	}
	v, err := id.Parse(value)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(v.Uint64(), 10), nil
}
