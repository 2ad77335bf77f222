package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/modoterra/opsconsole/internal/buildinfo"
	"github.com/modoterra/opsconsole/pkg/api"
	"github.com/modoterra/opsconsole/pkg/auth"
	"github.com/modoterra/opsconsole/pkg/config"
	"github.com/modoterra/opsconsole/pkg/core"
	"github.com/modoterra/opsconsole/pkg/transfer"
	"github.com/modoterra/opsconsole/pkg/watch"
)

var (
	configPath string
	serverFlag string
	verbose    bool
)

// errLoginHint is returned when a command needs a token and none is stored.
var errLoginHint = errors.New(`not logged in: run "opsconsole login --token <token>"`)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "opsconsole",
	Short:         "Terminal client for the ops console",
	Long:          "opsconsole follows task-execution logs, inspects executions and exports audit logs from an ops console server.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "console server URL, overrides the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(executionCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// env is the per-command context: loaded config, session store and logger.
type env struct {
	cfg    *config.Config
	store  *auth.Store
	logger *slog.Logger
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, error) {
	path := resolveConfigPath()
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if serverFlag != "" {
		cfg.Server = serverFlag
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config %s: %w", path, errors.Join(errs...))
	}
	return cfg, nil
}

func loadEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := auth.Open(cfg.SessionFile)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, store: store, logger: newLogger(cmd.ErrOrStderr())}, nil
}

func (e *env) client() (*api.Client, error) {
	token, err := e.store.RequireToken()
	if err != nil {
		return nil, errLoginHint
	}
	return api.New(e.cfg.Server, token, nil, e.logger)
}

// unauthorized rewrites a rejected token into the login hint.
func unauthorized(err error) error {
	if errors.Is(err, api.ErrUnauthorized) {
		return fmt.Errorf("%w (server rejected the stored token)", errLoginHint)
	}
	return err
}

// --- Login ---

var (
	loginToken     string
	loginTokenFile string
	loginNoVerify  bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store an API token",
	Long:  "Stores an API token for later commands. Without --token or --token-file the token is read from the terminal with echo disabled, or from stdin when it is not a terminal.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		token, err := readToken(cmd)
		if err != nil {
			return err
		}

		var user *auth.User
		if !loginNoVerify {
			client, err := api.New(e.cfg.Server, token, nil, e.logger)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			user, err = client.CurrentUser(ctx)
			if errors.Is(err, api.ErrUnauthorized) {
				return errors.New("login failed: token rejected by server")
			}
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
		}

		if err := e.store.SetSession(token, user); err != nil {
			return err
		}
		e.logger.Debug("session saved", "path", e.store.Path())
		if user != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s ✓\n", user.Username)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "token stored (not verified)")
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginToken, "token", "", "API token")
	loginCmd.Flags().StringVar(&loginTokenFile, "token-file", "", "read the API token from a file (\"-\" for stdin)")
	loginCmd.Flags().BoolVar(&loginNoVerify, "no-verify", false, "store the token without contacting the server")
}

// readToken resolves the token from --token, --token-file, a terminal
// prompt or stdin, in that order.
func readToken(cmd *cobra.Command) (string, error) {
	if loginToken != "" {
		return loginToken, nil
	}

	var data []byte
	switch in := cmd.InOrStdin(); {
	case loginTokenFile != "" && loginTokenFile != "-":
		b, err := os.ReadFile(loginTokenFile)
		if err != nil {
			return "", fmt.Errorf("read token file: %w", err)
		}
		data = b
	case isTerminal(in) && loginTokenFile == "":
		fd := int(in.(*os.File).Fd())
		fmt.Fprint(cmd.ErrOrStderr(), "API token: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		data = b
	default:
		b, err := io.ReadAll(io.LimitReader(in, 64<<10))
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		data = b
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", errors.New("no token given: use --token, --token-file or pipe it on stdin")
	}
	return token, nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// --- Logout ---

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		if !e.store.LoggedIn() {
			fmt.Fprintln(cmd.OutOrStdout(), "not logged in")
			return nil
		}
		if err := e.store.Clear(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "logged out (removed %s)\n", e.store.Path())
		return nil
	},
}

// --- Whoami ---

var whoamiOffline bool

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current user and permissions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		client, err := e.client()
		if err != nil {
			return err
		}

		user := e.store.User()
		if !whoamiOffline {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			fresh, err := client.CurrentUser(ctx)
			if err != nil {
				return unauthorized(err)
			}
			if err := e.store.SetUser(fresh); err != nil {
				return err
			}
			user = fresh
		}
		if user == nil {
			return errors.New("no user information stored: run whoami without --offline")
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-12s %s\n", "USER", user.Username)
		if user.Email != "" {
			fmt.Fprintf(out, "%-12s %s\n", "EMAIL", user.Email)
		}
		fmt.Fprintf(out, "%-12s %t\n", "ADMIN", user.IsAdmin)
		fmt.Fprintf(out, "%-12s %s\n", "ROLES", joinOrDash(user.Roles))
		fmt.Fprintf(out, "%-12s %s\n", "PERMISSIONS", joinOrDash(user.Permissions))
		return nil
	},
}

func init() {
	whoamiCmd.Flags().BoolVar(&whoamiOffline, "offline", false, "print the stored user without contacting the server")
}

func joinOrDash(s []string) string {
	if len(s) == 0 {
		return "-"
	}
	return strings.Join(s, ", ")
}

// --- Execution ---

var (
	executionJSON     bool
	executionWatch    bool
	executionInterval time.Duration
)

var executionCmd = &cobra.Command{
	Use:   "execution <id>",
	Short: "Show the status of a task execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		client, err := e.client()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if executionWatch {
			return watchExecution(cmd, e, client, args[0])
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		ex, err := client.GetTaskExecution(ctx, args[0])
		if err != nil {
			return unauthorized(err)
		}

		if executionJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(ex)
		}

		fmt.Fprintf(out, "%-10s %d\n", "ID", ex.ID)
		if ex.TaskName != "" {
			fmt.Fprintf(out, "%-10s %s (%d)\n", "TASK", ex.TaskName, ex.TaskID)
		} else {
			fmt.Fprintf(out, "%-10s %d\n", "TASK", ex.TaskID)
		}
		fmt.Fprintf(out, "%-10s %s\n", "STATUS", ex.Status)
		fmt.Fprintf(out, "%-10s %s\n", "STARTED", formatTime(ex.StartedAt))
		fmt.Fprintf(out, "%-10s %s\n", "FINISHED", formatTime(ex.FinishedAt))
		if ex.StartedAt != nil && ex.FinishedAt != nil {
			fmt.Fprintf(out, "%-10s %s\n", "DURATION", ex.FinishedAt.Sub(*ex.StartedAt).Round(time.Second))
		}
		return nil
	},
}

func init() {
	executionCmd.Flags().BoolVar(&executionJSON, "json", false, "output as JSON")
	executionCmd.Flags().BoolVarP(&executionWatch, "watch", "w", false, "poll until the execution finishes")
	executionCmd.Flags().DurationVar(&executionInterval, "interval", watch.DefaultInterval, "poll interval for --watch")
}

func watchExecution(cmd *cobra.Command, e *env, client *api.Client, id string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	w := watch.New(client, executionInterval, e.logger)
	ex, err := w.Run(ctx, id, func(c watch.Change) {
		if c.Previous == "" {
			fmt.Fprintf(out, "%s  execution %d: %s\n", time.Now().Format(time.TimeOnly), c.Execution.ID, c.Execution.Status)
			return
		}
		fmt.Fprintf(out, "%s  execution %d: %s -> %s\n", time.Now().Format(time.TimeOnly), c.Execution.ID, c.Previous, c.Execution.Status)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return unauthorized(err)
	}
	if ex.StartedAt != nil && ex.FinishedAt != nil {
		fmt.Fprintf(out, "finished in %s\n", ex.FinishedAt.Sub(*ex.StartedAt).Round(time.Second))
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

// --- Audit ---

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
}

var (
	auditFormat string
	auditOutput string
)

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download an audit-log export",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		client, err := e.client()
		if err != nil {
			return err
		}
		if !e.store.Can(core.ResourceAuditLog, core.ActionExport) {
			return fmt.Errorf("permission denied: %s required (run whoami to refresh permissions)",
				core.PermissionKey(core.ResourceAuditLog, core.ActionExport))
		}

		ex, err := client.ExportAuditLogs(cmd.Context(), auditFormat)
		if err != nil {
			return unauthorized(err)
		}
		defer ex.Body.Close()

		path := auditOutput
		if path == "" {
			path = ex.Filename
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		n, err := io.Copy(f, ex.Body)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		e.logger.Debug("audit export saved", "path", path, "content_type", ex.ContentType, "bytes", n)
		fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%s)\n", path, transfer.FormatSize(n))
		return nil
	},
}

func init() {
	auditExportCmd.Flags().StringVar(&auditFormat, "format", "csv", "export format: "+strings.Join(api.ExportFormats, ", "))
	auditExportCmd.Flags().StringVarP(&auditOutput, "output", "o", "", "output path (default: server-provided filename)")
	auditCmd.AddCommand(auditExportCmd)
}

// --- Config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the opsconsole config file",
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := resolveConfigPath()
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		c := config.Default()
		if serverFlag != "" {
			c.Server = serverFlag
		}
		if err := config.Save(c, path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a config file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := resolveConfigPath()
		if len(args) > 0 {
			path = args[0]
		}

		c, err := config.Load(path)
		if err != nil {
			return err
		}

		errs := config.Validate(c)
		if len(errs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (server %s)\n", path, c.Server)
			return nil
		}

		for _, e := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "  • %s\n", e)
		}
		return fmt.Errorf("%s: %d error(s)", path, len(errs))
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
}

// --- Version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "opsconsole %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
	},
}
