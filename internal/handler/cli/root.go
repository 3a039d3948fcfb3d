package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/auth"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/request"
	domain "github.com/cmlabs-hris/hris-selfservice-go/internal/domain/session"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/apiclient"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/repository/sqlite"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/service/approval"
	authsvc "github.com/cmlabs-hris/hris-selfservice-go/internal/service/auth"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/service/hrrequest"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/service/session"
	"github.com/spf13/cobra"
)

// app holds the flags and the services built from them for one invocation.
type app struct {
	apiURL    string
	storePath string
	device    string
	sealKey   string
	timeout   time.Duration

	stdin io.Reader
	in    *bufio.Reader

	db       *sql.DB
	client   *apiclient.Client
	auth     auth.AuthService
	requests request.RequestService
	resolver *approval.Resolver
}

func NewRootCmd(version string) *cobra.Command {
	return newRootCmd(&app{stdin: os.Stdin}, version)
}

func newRootCmd(a *app, version string) *cobra.Command {
	a.in = bufio.NewReader(a.stdin)
	if a.resolver == nil {
		a.resolver = approval.NewResolver(nil)
	}

	root := &cobra.Command{
		Use:               "hrctl",
		Short:             "HR self-service CLI",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.open,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.PersistentFlags().StringVar(&a.apiURL, "api", envOr("HR_API_URL", "http://localhost:8000/api"), "HR API base URL")
	root.PersistentFlags().StringVar(&a.storePath, "store", envOr("HRCTL_STORE", defaultStorePath()), "Session store file")
	root.PersistentFlags().StringVar(&a.device, "device", "default", "Session namespace inside the store")
	root.PersistentFlags().StringVar(&a.sealKey, "seal-key", os.Getenv("SESSION_SEAL_KEY"), "Base64 key used to encrypt stored tokens")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 15*time.Second, "Per-request timeout")

	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newLoginCmd(a))
	root.AddCommand(newLogoutCmd(a))
	root.AddCommand(newWhoamiCmd(a))
	root.AddCommand(newRequestsCmd(a))
	root.AddCommand(newPolicyCmd(a))
	return root
}

// open builds the session-backed services and runs the startup expiry check.
func (a *app) open(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	db, err := sqlite.Open(ctx, a.storePath)
	if err != nil {
		return err
	}
	a.db = db

	var sealer session.Sealer
	if a.sealKey != "" {
		if sealer, err = session.NewAEADSealer(a.sealKey); err != nil {
			return err
		}
	}
	sessions := session.NewManager(sqlite.NewSessionStore(db, a.device), sealer)

	stderr := cmd.ErrOrStderr()
	a.client, err = apiclient.New(apiclient.Config{
		BaseURL: a.apiURL,
		Timeout: a.timeout,
		Hooks: apiclient.Hooks{
			OnSessionExpired: func(context.Context) {
				fmt.Fprintln(stderr, "Session expired. Run \"hrctl login\" to sign in again.")
			},
		},
	}, sessions)
	if err != nil {
		return err
	}
	a.auth = authsvc.NewAuthService(a.client, sessions)
	a.requests = hrrequest.NewRequestService(a.client, sessions, a.resolver)

	if err := a.auth.Startup(ctx); err != nil && !errors.Is(err, apiclient.ErrSessionExpired) {
		slog.Warn("startup session check failed", "error", err)
	}
	return nil
}

func (a *app) close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		// version needs no session store
		PersistentPreRunE:  func(cmd *cobra.Command, args []string) error { return nil },
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "hrctl %s\n", version)
			return nil
		},
	}
}

// Describe turns a command error into the line shown to the user.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrNoSession):
		return "Not logged in. Run \"hrctl login\" first."
	case errors.Is(err, apiclient.ErrSessionExpired),
		errors.Is(err, apiclient.ErrUnauthorized),
		errors.Is(err, apiclient.ErrNotFound),
		errors.Is(err, apiclient.ErrServer),
		errors.Is(err, apiclient.ErrNetwork),
		errors.Is(err, apiclient.ErrRequestFailed):
		return apiclient.Message(err)
	default:
		return err.Error()
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".hrctl", "session.db")
	}
	return filepath.Join(home, ".hrctl", "session.db")
}
