package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/koltyakov/relink/internal/client"
	"github.com/koltyakov/relink/internal/config"
	"github.com/koltyakov/relink/internal/id"
	"github.com/koltyakov/relink/internal/normalized"
)

// runAdminCommand parses the shared client flags, checks argument arity,
// and prints the command's result line.
func runAdminCommand(name string, args []string, minArgs, maxArgs int, usage string,
	command func(*client.Client, []string) (string, error)) int {

	cfg, rest, err := config.ParseClientFlags(name, args)
	if err != nil {
		return 2
	}
	if len(rest) < minArgs || len(rest) > maxArgs {
		fmt.Fprintf(os.Stderr, "%s command error: usage: relink %s\n", name, usage)
		return 2
	}
	out, err := command(client.New(cfg), rest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s command error: %v\n", name, err)
		return 1
	}
	fmt.Println(out)
	return 0
}

func runGet(ctx context.Context, args []string) int {
	return runAdminCommand("get", args, 1, 1, "get <id|vanity>",
		func(c *client.Client, rest []string) (string, error) {
			return getCommand(ctx, c, rest[0])
		})
}

func runNew(ctx context.Context, args []string) int {
	return runAdminCommand("new", args, 1, 2, "new <url> [vanity]",
		func(c *client.Client, rest []string) (string, error) {
			vanity := ""
			if len(rest) == 2 {
				vanity = rest[1]
			}
			return newCommand(ctx, c, rest[0], vanity)
		})
}

func runSet(ctx context.Context, args []string) int {
	return runAdminCommand("set", args, 2, 2, "set <id> <url>",
		func(c *client.Client, rest []string) (string, error) {
			return setCommand(ctx, c, rest[0], rest[1])
		})
}

func runAdd(ctx context.Context, args []string) int {
	return runAdminCommand("add", args, 2, 2, "add <vanity> <id>",
		func(c *client.Client, rest []string) (string, error) {
			return addCommand(ctx, c, rest[0], rest[1])
		})
}

func runRem(ctx context.Context, args []string) int {
	return runAdminCommand("rem", args, 1, 1, "rem <id|vanity>",
		func(c *client.Client, rest []string) (string, error) {
			return remCommand(ctx, c, rest[0])
		})
}

// getCommand resolves an ID or vanity path, following a vanity path all
// the way to its destination. Missing segments render as ???.
func getCommand(ctx context.Context, c *client.Client, value string) (string, error) {
	if id.Candidate(value) {
		link, err := id.Parse(value)
		if err != nil {
			return "", fmt.Errorf("id is invalid: %w", err)
		}
		to, ok, err := c.GetRedirect(ctx, link)
		if err != nil {
			return "", err
		}
		if !ok {
			return fmt.Sprintf("%q ---> ???", link), nil
		}
		return fmt.Sprintf("%q ---> %q", link, to), nil
	}

	vanity, err := normalized.Vanity(value)
	if err != nil {
		return "", err
	}
	link, ok, err := c.GetVanity(ctx, vanity)
	if err != nil {
		return "", err
	}
	if !ok {
		return fmt.Sprintf("%q ---> ??? ---> ???", vanity), nil
	}
	to, ok, err := c.GetRedirect(ctx, link)
	if err != nil {
		return "", err
	}
	if !ok {
		return fmt.Sprintf("%q ---> %q ---> ???", vanity, link), nil
	}
	return fmt.Sprintf("%q ---> %q ---> %q", vanity, link, to), nil
}

func newCommand(ctx context.Context, c *client.Client, to, vanity string) (string, error) {
	dest, err := normalized.ParseLink(to)
	if err != nil {
		return "", err
	}
	var path string
	if vanity != "" {
		if path, err = normalized.Vanity(vanity); err != nil {
			return "", err
		}
	}

	link, err := generateUnusedID(ctx, c)
	if err != nil {
		return "", err
	}
	if _, _, err := c.SetRedirect(ctx, link, dest); err != nil {
		return "", err
	}
	if path == "" {
		return fmt.Sprintf("%q ---> %q", link, dest), nil
	}
	if _, _, err := c.SetVanity(ctx, path, link); err != nil {
		return "", err
	}
	return fmt.Sprintf("%q ---> %q ---> %q", path, link, dest), nil
}

// generateUnusedID retries random IDs until one has no redirect. With
// 2^40 possible IDs a retry is already exceptional; a cancelled context
// stops the loop through the lookup error.
func generateUnusedID(ctx context.Context, c *client.Client) (id.ID, error) {
	for {
		link, err := id.Random()
		if err != nil {
			return id.ID{}, err
		}
		_, exists, err := c.GetRedirect(ctx, link)
		if err != nil {
			return id.ID{}, err
		}
		if !exists {
			return link, nil
		}
	}
}

func setCommand(ctx context.Context, c *client.Client, idValue, to string) (string, error) {
	link, err := id.Parse(idValue)
	if err != nil {
		return "", fmt.Errorf("id is invalid: %w", err)
	}
	dest, err := normalized.ParseLink(to)
	if err != nil {
		return "", err
	}
	old, had, err := c.SetRedirect(ctx, link, dest)
	if err != nil {
		return "", err
	}
	if !had {
		return fmt.Sprintf("%q ---> %q", link, dest), nil
	}
	return fmt.Sprintf("%q ---> %q (-X-> %q)", link, dest, old), nil
}

func addCommand(ctx context.Context, c *client.Client, vanityValue, idValue string) (string, error) {
	path, err := normalized.Vanity(vanityValue)
	if err != nil {
		return "", err
	}
	link, err := id.Parse(idValue)
	if err != nil {
		return "", fmt.Errorf("id is invalid: %w", err)
	}
	if _, _, err := c.SetVanity(ctx, path, link); err != nil {
		return "", err
	}
	return fmt.Sprintf("%q ---> %q", path, link), nil
}

func remCommand(ctx context.Context, c *client.Client, value string) (string, error) {
	if id.Candidate(value) {
		link, err := id.Parse(value)
		if err != nil {
			return "", fmt.Errorf("id is invalid: %w", err)
		}
		old, had, err := c.RemoveRedirect(ctx, link)
		if err != nil {
			return "", err
		}
		if !had {
			return fmt.Sprintf("%q -X-> ???", link), nil
		}
		return fmt.Sprintf("%q -X-> %q", link, old), nil
	}

	vanity, err := normalized.Vanity(value)
	if err != nil {
		return "", err
	}
	old, had, err := c.RemoveVanity(ctx, vanity)
	if err != nil {
		return "", err
	}
	if !had {
		return fmt.Sprintf("%q -X-> ???", vanity), nil
	}
	return fmt.Sprintf("%q -X-> %q", vanity, old), nil
}
