package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"assetdesk/backend/internal/browser"
	"assetdesk/backend/internal/catalog"
	"assetdesk/backend/internal/config"
	"assetdesk/backend/internal/logging"
	"assetdesk/backend/pkg/models"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	foundStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	fallbackStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Faint(true)
)

type options struct {
	envFile     string
	roles       []string
	baseURL     string
	debuggerURL string
	stepTimeout time.Duration
	parallel    int
	jsonOut     bool
	strict      bool
}

func main() {
	var opts options
	root := &cobra.Command{
		Use:   "tourcheck",
		Short: "Walk every role's onboarding tour in headless Chrome",
		Long: `tourcheck opens the web client in Chrome, plays each role's tour to the end
and reports which steps found their anchor and which fell back to the
whole viewport.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd.OutOrStdout(), opts)
		},
	}
	f := root.Flags()
	f.StringVar(&opts.envFile, "env", "", "Path to .env file")
	f.StringSliceVar(&opts.roles, "role", nil, "Roles to audit (default: every role in the catalog)")
	f.StringVar(&opts.baseURL, "base-url", "", "Web client URL (overrides browser.base_url)")
	f.StringVar(&opts.debuggerURL, "debugger-url", "", "Connect to a running Chrome instead of launching one")
	f.DurationVar(&opts.stepTimeout, "step-timeout", 30*time.Second, "Maximum wait for each step to be presented")
	f.IntVar(&opts.parallel, "parallel", 2, "Roles audited concurrently")
	f.BoolVar(&opts.jsonOut, "json", false, "Print reports as JSON")
	f.BoolVar(&opts.strict, "strict", false, "Exit non-zero when any step falls back")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("tourcheck: "+err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer, opts options) error {
	cfg, err := config.LoadConfig(opts.envFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	scripts, err := catalog.Load(cfg.Tour.CatalogFile)
	if err != nil {
		return err
	}
	roles, err := selectRoles(scripts.Roles(), opts.roles)
	if err != nil {
		return err
	}

	baseURL := cfg.Browser.BaseURL
	if opts.baseURL != "" {
		baseURL = opts.baseURL
	}
	b, err := browser.Launch(ctx, browser.Config{
		BaseURL:     baseURL,
		Headless:    cfg.Browser.Headless,
		Bin:         cfg.Browser.Bin,
		DebuggerURL: opts.debuggerURL,
	})
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	auditCfg := browser.AuditConfig{
		LoginRoute:    cfg.Tour.LoginRoute,
		PollInterval:  cfg.PollInterval(),
		TargetTimeout: cfg.TargetTimeout(),
		StepTimeout:   opts.stepTimeout,
	}

	reports := make([]browser.Report, len(roles))
	errs := make([]error, len(roles))
	g, gctx := errgroup.WithContext(ctx)
	if opts.parallel > 0 {
		g.SetLimit(opts.parallel)
	}
	for i, role := range roles {
		g.Go(func() error {
			page, err := b.NewPage(gctx, cfg.Tour.LoginRoute)
			if err != nil {
				reports[i], errs[i] = browser.Report{Role: role}, err
				return nil
			}
			defer func() { _ = page.Close() }()
			reports[i], errs[i] = browser.Audit(gctx, page, scripts, role, auditCfg, logger.With("role", role))
			return nil
		})
	}
	_ = g.Wait()

	if opts.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return err
		}
	} else {
		fmt.Fprint(out, render(reports, errs))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	if opts.strict {
		for _, r := range reports {
			if n := r.Fallbacks(); n > 0 {
				return fmt.Errorf("%s tour has %d step(s) without an anchor", r.Role, n)
			}
		}
	}
	return nil
}

func selectRoles(available []models.Role, requested []string) ([]models.Role, error) {
	if len(requested) == 0 {
		return available, nil
	}
	roles := make([]models.Role, 0, len(requested))
	for _, name := range requested {
		role, ok := models.ParseRole(name)
		if !ok {
			return nil, fmt.Errorf("unknown role %q", name)
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func render(reports []browser.Report, errs []error) string {
	var sb strings.Builder
	for i, r := range reports {
		sb.WriteString(titleStyle.Render(fmt.Sprintf("%s tour", r.Role)))
		sb.WriteString(dimStyle.Render(fmt.Sprintf("  %d steps, %d fallback", len(r.Steps), r.Fallbacks())))
		sb.WriteString("\n")
		for _, s := range r.Steps {
			mark := foundStyle.Render("found   ")
			if !s.TargetFound {
				mark = fallbackStyle.Render("fallback")
			}
			fmt.Fprintf(&sb, "  %s %-24s %-14s %s\n", mark, s.StepID, s.Route, dimStyle.Render(s.Target))
		}
		if errs[i] != nil {
			sb.WriteString("  " + errorStyle.Render(errs[i].Error()) + "\n")
		} else if r.Outcome != "" {
			sb.WriteString(dimStyle.Render("  outcome: "+string(r.Outcome)) + "\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
