package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/koltyakov/relink/internal/config"
	"github.com/koltyakov/relink/internal/debughttp"
	"github.com/koltyakov/relink/internal/id"
	ilog "github.com/koltyakov/relink/internal/log"
	"github.com/koltyakov/relink/internal/server"
	"github.com/koltyakov/relink/internal/store"
)

func runServer(ctx context.Context, args []string) int {
	cfg, opts, err := config.ParseServerFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "server config error:", err)
		return 2
	}
	logger, level := ilog.New(cfg.LogLevel)

	if err := debughttp.StartPprofServer(ctx, opts.DebugAddr, logger); err != nil {
		fmt.Fprintln(os.Stderr, "debug server error:", err)
		return 1
	}

	st, err := store.Open(ctx, cfg.Store, cfg.StoreConfig)
	if err != nil {
		fmt.Fprintln(os.Stderr, "store error:", err)
		return 1
	}
	cur := store.NewCurrent(logger)
	cur.Swap(st)
	// The server closes the store at shutdown; Close on a detached
	// handle is a no-op, so this only covers startup failures.
	defer func() { _ = cur.Close() }()

	if opts.ExampleRedirect {
		if err := seedExampleRedirect(ctx, cur); err != nil {
			fmt.Fprintln(os.Stderr, "example redirect error:", err)
			return 1
		}
		logger.Info("example redirect seeded",
			"vanity", "example", "id", id.Max, "link", exampleLink)
	}

	// The generated token exists nowhere else; without this line the API
	// would be unreachable.
	if cfg.TokenGenerated {
		logger.Info("generated API token", "token", cfg.Token)
	}

	s := server.New(cfg, opts, cur, level, logger, Version)
	if err := s.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		return 1
	}
	return 0
}

const exampleLink = "https://example.com/"

func seedExampleRedirect(ctx context.Context, st *store.Current) error {
	if _, _, err := st.SetRedirect(ctx, id.Max, exampleLink); err != nil {
		return err
	}
	if _, _, err := st.SetVanity(ctx, "example", id.Max); err != nil {
		return err
	}
	return nil
}
