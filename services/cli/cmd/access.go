package cmd

import (
	"github.com/spf13/cobra"

	"PemkoPortal/pkg/errors"
	"PemkoPortal/pkg/guard"
	"PemkoPortal/pkg/validation"
)

func newAccessCmd(a *app) *cobra.Command {
	accessCmd := &cobra.Command{
		Use:   "access",
		Short: "Проверка доступа",
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Проверить доступ текущего пользователя",
		Long: `Проверяет сохраненный токен и решает, есть ли у пользователя доступ.

Без --all достаточно любой из ролей или любого из прав.
С --all нужны все роли и все права.

Коды выхода: 0 доступ разрешен, 2 доступ запрещен, 3 вход не выполнен.`,
		Example: `  pemko access check --role super_admin --permission "view users"
  pemko access check --role admin --role editor --all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.handleAccessCheck(cmd)
		},
	}
	checkCmd.Flags().StringArrayP("role", "r", nil, "роль (можно указать несколько раз)")
	checkCmd.Flags().StringArrayP("permission", "p", nil, "право (можно указать несколько раз)")
	checkCmd.Flags().Bool("all", false, "требовать все роли и все права")

	accessCmd.AddCommand(checkCmd)
	return accessCmd
}

func (a *app) handleAccessCheck(cmd *cobra.Command) error {
	roles, _ := cmd.Flags().GetStringArray("role")
	perms, _ := cmd.Flags().GetStringArray("permission")
	all, _ := cmd.Flags().GetBool("all")

	v := validation.NewValidator()
	if err := v.ValidateIdentifiers(roles, "role"); err != nil {
		return a.fail(errors.New(errors.ErrValidation, err.Error()))
	}
	if err := v.ValidateIdentifiers(perms, "permission"); err != nil {
		return a.fail(errors.New(errors.ErrValidation, err.Error()))
	}

	policy := guard.Either(roles, perms)
	if all {
		policy = guard.All(roles, perms)
	}

	ctx := cmd.Context()
	s, err := a.newSession(ctx)
	if err != nil {
		return a.fail(err)
	}
	defer s.Close()

	d := guard.Evaluate(s.ValidateToken(ctx), policy)
	a.printer.Decision(d)

	switch d.Outcome {
	case guard.OutcomeGranted:
		return nil
	case guard.OutcomeForbidden:
		return &ExitError{Code: ExitForbidden}
	default:
		return &ExitError{Code: ExitUnauthenticated}
	}
}
