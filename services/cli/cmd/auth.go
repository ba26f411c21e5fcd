package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"PemkoPortal/pkg/errors"
	"PemkoPortal/pkg/session"
	"PemkoPortal/pkg/validation"
)

func newAuthCmd(a *app) *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Управление аутентификацией",
		Long:  `Команды входа, выхода и проверки сохраненного токена.`,
	}

	loginCmd := &cobra.Command{
		Use:   "login [email]",
		Short: "Войти в систему",
		Long: `Выполняет вход по email и паролю через backend.
Сохраняет токен для последующих команд. С --remember токен живет дольше.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.handleLogin(cmd, args)
		},
	}
	loginCmd.Flags().StringP("email", "e", "", "email")
	loginCmd.Flags().StringP("password", "p", "", "пароль (если не задан, читается из stdin)")
	loginCmd.Flags().Bool("remember", false, "запомнить вход (Ingat saya)")

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Выйти из системы",
		Long:  `Удаляет сохраненный токен.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.handleLogout(cmd)
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Проверить статус аутентификации",
		Long: `Проверяет сохраненный токен через backend и показывает пользователя.
Недействительный токен удаляется. Без входа команда завершается с кодом 3.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.handleStatus(cmd, false)
		},
	}

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Обновить данные пользователя",
		Long:  `Повторно получает пользователя, его роли и права по сохраненному токену.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.handleStatus(cmd, true)
		},
	}

	authCmd.AddCommand(loginCmd, logoutCmd, statusCmd, refreshCmd)
	return authCmd
}

func (a *app) handleLogin(cmd *cobra.Command, args []string) error {
	email, _ := cmd.Flags().GetString("email")
	if len(args) > 0 {
		email = args[0]
	}
	password, _ := cmd.Flags().GetString("password")
	remember, _ := cmd.Flags().GetBool("remember")

	if password == "" {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return a.fail(errors.New(errors.ErrValidation, "Password wajib diisi"))
		}
		password = strings.TrimRight(line, "\r\n")
	}

	if fieldErrs := validation.NewValidator().ValidateLogin(email, password); !fieldErrs.Empty() {
		return a.fail(errors.New(errors.ErrValidation, "Terdapat kesalahan pada input form").WithFields(fieldErrs))
	}

	ctx := cmd.Context()
	result, err := a.client.Login(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return a.fail(err)
	}

	s, err := a.newSession(ctx)
	if err != nil {
		return a.fail(err)
	}
	defer s.Close()

	if err := s.Login(ctx, result.Token, result.User, session.PersistOptions{Remember: remember}); err != nil {
		return a.fail(err)
	}

	a.printer.Success("Login berhasil")
	a.printer.Status(s.State())
	return nil
}

func (a *app) handleLogout(cmd *cobra.Command) error {
	ctx := cmd.Context()
	s, err := a.newSession(ctx)
	if err != nil {
		return a.fail(err)
	}
	defer s.Close()

	if err := s.Logout(ctx); err != nil {
		return a.fail(err)
	}

	a.printer.Success("Logout berhasil")
	return nil
}

func (a *app) handleStatus(cmd *cobra.Command, refresh bool) error {
	ctx := cmd.Context()
	s, err := a.newSession(ctx)
	if err != nil {
		return a.fail(err)
	}
	defer s.Close()

	var st session.State
	if refresh {
		st = s.RefreshUser(ctx)
	} else {
		st = s.ValidateToken(ctx)
	}

	a.printer.Status(st)
	if !st.IsAuthenticated {
		return &ExitError{Code: ExitUnauthenticated}
	}
	if refresh {
		a.printer.Success("Data pengguna diperbarui")
	}
	return nil
}
