package cli

import (
	"fmt"
	"os/exec"
	"strings"
)

func printUsage() {
	fmt.Println(`relink - link shortening and redirection server

Usage:
  relink server                         Start the redirector server
  relink server --config relink.yaml    Start with a config file
  relink id [value]                     Random ID, or convert an ID between
                                        its encoded and numeric forms
  relink get <id|vanity>                Resolve a redirect
  relink new <url> [vanity]             Create a redirect with a random ID
  relink set <id> <url>                 Set a redirect destination
  relink add <vanity> <id>              Point a vanity path at an ID
  relink rem <id|vanity>                Remove a redirect or vanity path
  relink stats get [filters]            Query statistics
  relink stats rem [filters]            Remove statistics
  relink token                          Generate a random API token
  relink version                        Print version
  relink help                           Show this help

Admin commands talk to a running server's API and accept:
  --host URL       API base URL (default http://[::1]:50051)
  --token TOKEN    API bearer token
  --timeout D      Request timeout (default 10s)
Statistics filters: --link, --type, --data, --time (RFC 3339).

Environment Variables:
  RELINK_HOST             API base URL for admin commands
  RELINK_TOKEN            API bearer token
  RELINK_<OPTION>         Server configuration (RELINK_LOG_LEVEL,
                          RELINK_LISTENERS, RELINK_STORE, ...)`)
}

// Version is set at build time via -ldflags.
var Version = "dev"

func init() {
	if Version == "dev" {
		if desc, err := exec.Command("git", "describe", "--tags", "--always").Output(); err == nil {
			if v := strings.TrimSpace(string(desc)); v != "" {
				Version = v + "-dev"
			}
		}
	}
	// Normalize: ensure non-dev versions start with "v" (GoReleaser
	// template {{.Version}} strips the prefix while git-describe keeps it).
	if Version != "dev" && !strings.HasPrefix(Version, "v") {
		Version = "v" + Version
	}
}

func printVersion() {
	fmt.Println("relink", Version)
}
