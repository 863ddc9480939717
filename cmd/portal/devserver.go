package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/portal-pesantren/portal-sub001/pkg/dataset"
	"github.com/portal-pesantren/portal-sub001/pkg/devserver"
	"github.com/portal-pesantren/portal-sub001/pkg/health"
	"github.com/portal-pesantren/portal-sub001/pkg/pesantren"
)

// envSigningKey supplies the devserver token signing key.
const envSigningKey = "PORTAL_DEV_SIGNING_KEY"

const (
	shutdownTimeout = 5 * time.Second
	cleanupInterval = 10 * time.Minute
)

type devserverOptions struct {
	addr             string
	seed             string
	latency          time.Duration
	maxLoginAttempts int
	noUsers          bool
}

func getDevserverCmd() *cobra.Command {
	opts := devserverOptions{}

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Serve an in-memory directory API for local development",
		Long: `Serve the directory REST API from memory with sample listings and demo
accounts. Tokens are signed with $` + envSigningKey + `, or with a random key
when it is unset.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			srv, err := buildDevserver(opts)
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", opts.addr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", opts.addr, err)
			}
			cmd.Printf("Serving directory API at http://%s%s\n", ln.Addr(), srv.Prefix())
			return serveDevserver(cmd.Context(), srv, ln)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "localhost:8000", "listen address")
	cmd.Flags().StringVar(&opts.seed, "seed", "", "YAML listing file (default: built-in sample listings)")
	cmd.Flags().DurationVar(&opts.latency, "latency", 0, "artificial delay added to every response")
	cmd.Flags().IntVar(&opts.maxLoginAttempts, "max-login-attempts", 5, "failed logins per email before 429, 0 to disable")
	cmd.Flags().BoolVar(&opts.noUsers, "no-users", false, "start without demo accounts")
	return cmd
}

func buildDevserver(opts devserverOptions) (*devserver.Server, error) {
	key := []byte(os.Getenv(envSigningKey))
	if len(key) == 0 {
		key = []byte(rand.Text())
		slog.Warn("devserver: using a random signing key, tokens will not survive a restart", "env", envSigningKey)
	}

	srv, err := devserver.New(devserver.Config{
		SigningKey:       key,
		MaxLoginAttempts: opts.maxLoginAttempts,
		Latency:          opts.latency,
	})
	if err != nil {
		return nil, err
	}

	listings, err := loadListings(opts.seed)
	if err != nil {
		return nil, err
	}
	srv.LoadPesantren(listings...)

	if !opts.noUsers {
		for _, u := range devserver.DefaultUsers() {
			if _, err := srv.AddUser(u); err != nil {
				return nil, fmt.Errorf("adding user %s: %w", u.Email, err)
			}
		}
	}
	slog.Info("devserver: loaded", "listings", len(listings), "demo_users", !opts.noUsers)
	return srv, nil
}

func loadListings(path string) ([]pesantren.Pesantren, error) {
	if path == "" {
		return devserver.DefaultSeed()
	}
	return dataset.LoadSeed(path)
}

// serveDevserver serves the API and health endpoints until ctx is done, then
// shuts down gracefully.
func serveDevserver(ctx context.Context, srv *devserver.Server, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	srv.StartCleanupRoutine(ctx, cleanupInterval)

	checker := health.NewChecker()
	mux := http.NewServeMux()
	checker.Mount(mux)
	mux.Handle("/", srv)

	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()
	checker.SetReady()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	checker.SetDraining()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
