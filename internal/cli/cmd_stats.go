package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/koltyakov/relink/internal/client"
	"github.com/koltyakov/relink/internal/config"
	"github.com/koltyakov/relink/internal/normalized"
	"github.com/koltyakov/relink/internal/stats"
)

func runStats(ctx context.Context, args []string) int {
	if len(args) == 0 || (args[0] != "get" && args[0] != "rem") {
		fmt.Fprintln(os.Stderr, "stats command error: expected `get` or `rem` subcommand")
		return 2
	}
	sub := args[0]

	fs, cfg := config.NewClientFlagSet("stats " + sub)
	link := fs.String("link", "", "Filter by ID or vanity path")
	typ := fs.String("type", "", "Filter by statistic type")
	data := fs.String("data", "", "Filter by statistic data")
	tm := fs.String("time", "", "Filter by time (RFC 3339)")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintf(os.Stderr, "stats command error: unexpected argument %q\n", fs.Arg(0))
		return 2
	}

	desc, err := statsDescription(fs, *link, *typ, *data, *tm)
	if err != nil {
		fmt.Fprintln(os.Stderr, "stats command error:", err)
		return 2
	}

	c := client.New(*cfg)
	var out string
	switch sub {
	case "get":
		out, err = statsGetCommand(ctx, c, desc)
	case "rem":
		out, err = statsRemCommand(ctx, c, desc)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "stats command error:", err)
		return 1
	}
	fmt.Println(out)
	return 0
}

// statsDescription builds the partial key from the filter flags. Only
// flags that were actually set take part: an explicitly empty --data is
// an exact match on empty data, not a wildcard.
func statsDescription(fs *flag.FlagSet, link, typ, data, tm string) (stats.Description, error) {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var d stats.Description
	if set["link"] {
		subject, err := normalized.Subject(link)
		if err != nil {
			return d, fmt.Errorf("link is invalid: %w", err)
		}
		d.Link = &subject
	}
	if set["type"] {
		t := stats.Type(typ)
		if !t.Valid() {
			return d, fmt.Errorf("unknown statistic type %q", typ)
		}
		d.Type = &t
	}
	if set["data"] {
		d.Data = &data
	}
	if set["time"] {
		bucket, err := stats.ParseTime(tm)
		if err != nil {
			return d, fmt.Errorf("time is invalid: %w", err)
		}
		d.Time = &bucket
	}
	return d, nil
}

func statsGetCommand(ctx context.Context, c *client.Client, d stats.Description) (string, error) {
	rows, err := c.GetStatistics(ctx, d)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(rows)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func statsRemCommand(ctx context.Context, c *client.Client, d stats.Description) (string, error) {
	rows, err := c.RemoveStatistics(ctx, d)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed %d statistics", len(rows)), nil
}
