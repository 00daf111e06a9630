package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/mdns"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/agusx1211/ccplane/internal/agent"
	"github.com/agusx1211/ccplane/internal/buildinfo"
	"github.com/agusx1211/ccplane/internal/childagent"
	"github.com/agusx1211/ccplane/internal/config"
	"github.com/agusx1211/ccplane/internal/debug"
	"github.com/agusx1211/ccplane/internal/eventq"
	"github.com/agusx1211/ccplane/internal/recording"
	"github.com/agusx1211/ccplane/internal/store"
	"github.com/agusx1211/ccplane/internal/terminal"
	"github.com/agusx1211/ccplane/internal/theme"
	"github.com/agusx1211/ccplane/internal/webserver"
)

const (
	mdnsServiceType = "_ccplane._tcp"
	shutdownTimeout = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane",
		Long: `Start the terminal manager, the child-agent watcher and the HTTP API.

Terminals left starting or running by a previous run are marked closed on
startup; resume them through the API. On SIGINT or SIGTERM every live
session is stopped and marked closed before the process exits.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("host", "", "Host to bind to (overrides config)")
	cmd.Flags().IntP("port", "p", 0, "Port to listen on (overrides config)")
	cmd.Flags().String("auth-token", "", "Require this bearer token for API access")
	cmd.Flags().Float64("rate-limit", 0, "Max requests per second per IP (0 = unlimited)")
	cmd.Flags().Bool("mdns", false, "Advertise the server on the local network via mDNS")
	cmd.Flags().Bool("qr", false, "Print a QR code of the server URL")
	return cmd
}

// applyServeFlags lets explicitly set flags override the config file.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("auth-token") {
		cfg.Server.AuthToken, _ = flags.GetString("auth-token")
	}
	if flags.Changed("mdns") {
		cfg.Server.MDNS, _ = flags.GetBool("mdns")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)
	rateLimit, _ := cmd.Flags().GetFloat64("rate-limit")
	showQR, _ := cmd.Flags().GetBool("qr")

	mgr := terminal.NewManager(terminal.Options{
		Store:    store.New(cfg.DataDir),
		RootDir:  cfg.RootDir,
		Scopes:   cfg,
		Launcher: agent.NewClaudeLauncher(cfg.Agent.Command, cfg.Agent.Env),
	})
	if err := mgr.Initialize(); err != nil {
		return fmt.Errorf("initializing terminals: %w", err)
	}

	watcher := childagent.New(childagent.Options{
		Dir:      cfg.Jobs.Dir,
		Interval: cfg.Jobs.PollInterval,
		Linker:   mgr,
	})

	transcripts := recording.New(filepath.Join(cfg.DataDir, "recordings"))
	defer transcripts.Close()
	// Subscribed before any session can start so no event is missed.
	recordCh, cancelRecord := mgr.Subscribe(eventq.DefaultBuffer * 4)
	defer cancelRecord()

	srv := webserver.New(webserver.Options{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		AuthToken:   cfg.Server.AuthToken,
		RateLimit:   rateLimit,
		Terminals:   mgr,
		ChildAgents: watcher,
		Transcripts: transcripts,
	})
	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting web server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			debug.LogKV("cli", "child-agent watcher stopped", "error", err)
		}
	}()

	recordDone := make(chan struct{})
	go func() {
		defer close(recordDone)
		// Ends when Shutdown closes the broker.
		_ = transcripts.Run(context.Background(), recordCh)
	}()

	out := cmd.OutOrStdout()
	printServeBanner(out, srv.URL(), cfg, len(mgr.List()))
	if showQR {
		if err := printQRCode(out, srv.URL()); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to render QR code: %v\n", err)
		}
	}
	if cfg.Server.MDNS {
		server, err := startMDNS(srv.Port(), srv.URL())
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to start mDNS advertisement: %v\n", err)
		} else {
			defer server.Shutdown()
		}
	}

	<-ctx.Done()
	fmt.Fprintln(out, theme.Dim.Render("Shutting down..."))
	debug.LogKV("cli", "shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down web server: %w", err))
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down terminals: %w", err))
	}
	<-watchDone
	<-recordDone
	return errors.Join(errs...)
}

func printServeBanner(w io.Writer, url string, cfg *config.Config, terminals int) {
	fmt.Fprintf(w, "%s %s\n", theme.Header.Render("ccplane"), theme.Dim.Render(buildinfo.Current().Version))
	fmt.Fprintf(w, "Listening on %s\n", theme.Accent.Render(url))
	fmt.Fprintf(w, "Data dir:    %s\n", cfg.DataDir)
	fmt.Fprintf(w, "Jobs dir:    %s\n", cfg.Jobs.Dir)
	if ids := cfg.ProjectIDs(); len(ids) > 0 {
		fmt.Fprintf(w, "Projects:    %s\n", strings.Join(ids, ", "))
	}
	fmt.Fprintf(w, "Terminals:   %d restored\n", terminals)
	if cfg.Server.AuthToken != "" {
		fmt.Fprintln(w, "Auth token required for API access.")
	}
}

func startMDNS(port int, url string) (*mdns.Server, error) {
	if port <= 0 {
		return nil, fmt.Errorf("invalid port for mDNS advertisement: %d", port)
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "ccplane"
	}
	txt := []string{
		"url=" + url,
		"version=" + buildinfo.Current().Version,
	}
	service, err := mdns.NewMDNSService(host, mdnsServiceType, "local", "", port, nil, txt)
	if err != nil {
		return nil, err
	}
	debug.LogKV("cli", "mdns advertising", "instance", host, "service", mdnsServiceType, "port", port)
	return mdns.NewServer(&mdns.Config{Zone: service})
}

func printQRCode(w io.Writer, url string) error {
	code, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, code.ToSmallString(false))
	return nil
}
