package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"PemkoPortal/pkg/backend"
	pkgerrors "PemkoPortal/pkg/errors"
	"PemkoPortal/pkg/logger"
	pkg_redis "PemkoPortal/pkg/redis"
	"PemkoPortal/pkg/session"
	"PemkoPortal/services/cli/internal/config"
	"PemkoPortal/services/cli/internal/output"
	"PemkoPortal/services/cli/internal/store"
)

// Version версия CLI
const Version = "1.0.0"

// Коды выхода процесса
const (
	ExitOK              = 0
	ExitFailure         = 1
	ExitForbidden       = 2
	ExitUnauthenticated = 3
)

// ExitError завершает команду с кодом выхода. Сообщение уже выведено командой
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// app общее состояние одного запуска CLI
type app struct {
	v       *viper.Viper
	cfg     *config.Config
	log     logger.Logger
	printer *output.Printer
	client  *backend.Client

	store   session.CredentialStore
	closers []func() error
}

// Execute запускает CLI с аргументами args и возвращает код выхода
func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{v: viper.New()}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	if a.log != nil {
		a.log.Error("Command failed", logger.Error(err))
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return ExitFailure
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "pemko",
		Short: "Pemko CLI - sesi dan hak akses panel admin",
		Long: `Pemko CLI - инструмент командной строки панели администратора.

Входит в backend, хранит токен между запусками и проверяет
доступ текущего пользователя по ролям и правам.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $PEMKO_HOME/.pemko/config.yaml)")
	flags.String("backend", "", "backend base URL")
	flags.String("store", "", "token store (file, redis)")
	flags.String("home", "", "data directory root (default is $HOME)")
	flags.String("redis-addr", "", "redis address for the redis token store")
	flags.Bool("no-color", false, "disable colored output")
	flags.Bool("debug", false, "debug logging")

	for _, name := range []string{"config", "backend", "store", "home", "redis-addr", "no-color", "debug"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}
	a.v.SetEnvPrefix("PEMKO")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(newAuthCmd(a))
	root.AddCommand(newAccessCmd(a))
	root.AddCommand(newVersionCmd())

	return root
}

// init загружает конфигурацию: файл, затем флаги и переменные окружения PEMKO_*
func (a *app) init(cmd *cobra.Command) error {
	path := a.v.GetString("config")
	if path == "" {
		var err error
		if path, err = config.GetConfigPath(); err != nil {
			return err
		}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return err
	}

	if v := a.v.GetString("backend"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := a.v.GetString("store"); v != "" {
		cfg.Store.Driver = v
	}
	if v := a.v.GetString("home"); v != "" {
		cfg.Store.Home = v
	}
	if v := a.v.GetString("redis-addr"); v != "" {
		cfg.Store.Redis.Addr = v
	}
	if a.v.GetBool("no-color") {
		cfg.Output.Colors = false
	}
	if a.v.GetBool("debug") {
		cfg.Logger.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	a.log, err = logger.NewLogger(logger.Options{
		Environment: "dev",
		Level:       cfg.Logger.Level,
		Format:      "console",
		ServiceName: "pemko-cli",
		Output:      cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	a.printer = output.New(cmd.OutOrStdout(), cfg.Output.Colors)
	a.client = backend.NewClient(cfg.Backend.BaseURL, cfg.BackendTimeout(), backend.WithLogger(a.log))
	return nil
}

// credentialStore открывает хранилище токена один раз за запуск
func (a *app) credentialStore(ctx context.Context) (session.CredentialStore, error) {
	if a.store != nil {
		return a.store, nil
	}

	lifetime := store.Lifetime{
		Session:  a.cfg.SessionTTL(),
		Remember: a.cfg.RememberFor(),
	}

	switch a.cfg.Store.Driver {
	case config.StoreRedis:
		client, err := pkg_redis.Connect(ctx, pkg_redis.FromConfig(a.cfg.Store.Redis))
		if err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.ErrUnavailable, "token store is unavailable")
		}
		a.closers = append(a.closers, client.Close)
		a.store = store.NewRedisStore(client.Client, a.cfg.Store.KeyPrefix, lifetime)

	default:
		home := a.cfg.Store.Home
		if home == "" {
			var err error
			if home, err = config.HomeDir(); err != nil {
				return nil, err
			}
		}
		fs, err := store.NewFileStore(home, lifetime)
		if err != nil {
			return nil, err
		}
		a.log.Debug("Using file token store", logger.String("path", fs.Path()))
		a.store = fs
	}

	return a.store, nil
}

// newSession монтирует сессию над хранилищем токена
func (a *app) newSession(ctx context.Context) (*session.Session, error) {
	st, err := a.credentialStore(ctx)
	if err != nil {
		return nil, err
	}
	return session.New(session.Dependencies{
		Store:    st,
		Identity: a.client,
		Logger:   a.log,
	}, session.Options{
		ValidationTimeout: a.cfg.BackendTimeout(),
	}), nil
}

func (a *app) close() {
	for _, c := range a.closers {
		_ = c()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// fail печатает ошибку и завершает команду с кодом 1
func (a *app) fail(err error) error {
	a.printer.Error(err)
	return &ExitError{Code: ExitFailure}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Показать версию",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Pemko CLI v%s\n", Version)
		},
	}
}
