// Package output выводит состояние сессии и решения guard'а в терминал.
package output

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"PemkoPortal/pkg/errors"
	"PemkoPortal/pkg/guard"
	"PemkoPortal/pkg/session"
)

// Styles стили вывода
type Styles struct {
	Title   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Muted   lipgloss.Style
	Label   lipgloss.Style
	Box     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer, colors bool) Styles {
	if !colors {
		plain := r.NewStyle()
		return Styles{
			Title: plain, Success: plain, Error: plain, Warning: plain,
			Muted: plain, Label: plain, Box: plain,
		}
	}
	return Styles{
		Title: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63")),
		Success: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("46")),
		Error: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196")),
		Warning: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("226")),
		Muted: r.NewStyle().
			Foreground(lipgloss.Color("241")),
		Label: r.NewStyle().
			Foreground(lipgloss.Color("86")),
		Box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1),
	}
}

// Printer печатает результаты команд
type Printer struct {
	w      io.Writer
	styles Styles
}

// New создает Printer. Цвета используются, только если writer их поддерживает
func New(w io.Writer, colors bool) *Printer {
	return &Printer{
		w:      w,
		styles: newStyles(lipgloss.NewRenderer(w), colors),
	}
}

// Success печатает сообщение об успехе
func (p *Printer) Success(msg string) {
	fmt.Fprintln(p.w, p.styles.Success.Render("✓ "+msg))
}

// Error печатает ошибку. Для *errors.Error выводится сообщение для пользователя и ошибки по полям
func (p *Printer) Error(err error) {
	msg := err.Error()
	var fields map[string][]string
	if e, ok := errors.As(err); ok {
		msg = e.Message
		if msg == "" || e.Cause != nil {
			msg = e.GetUserMessage()
		}
		fields = e.Fields
	}

	fmt.Fprintln(p.w, p.styles.Error.Render("✗ "+msg))
	for _, field := range sortedKeys(fields) {
		for _, m := range fields[field] {
			fmt.Fprintf(p.w, "  %s %s\n", p.styles.Label.Render(field), m)
		}
	}
}

// Status печатает состояние сессии
func (p *Printer) Status(st session.State) {
	if !st.IsAuthenticated || st.User == nil {
		fmt.Fprintln(p.w, p.styles.Error.Render("✗ Belum login"))
		return
	}

	u := st.User
	var b strings.Builder
	b.WriteString(p.styles.Title.Render(u.Name))
	b.WriteString("\n")
	b.WriteString(p.row("Email", u.Email))
	b.WriteString(p.row("Department", u.Department))
	b.WriteString(p.row("Roles", joinOrDash(u.RoleNames())))
	b.WriteString(p.row("Permissions", joinOrDash(u.PermissionNames())))

	fmt.Fprintln(p.w, p.styles.Success.Render("✓ Login"))
	fmt.Fprintln(p.w, p.styles.Box.Render(strings.TrimRight(b.String(), "\n")))
}

// Decision печатает решение guard'а
func (p *Printer) Decision(d guard.Decision) {
	switch d.Outcome {
	case guard.OutcomeGranted:
		fmt.Fprintln(p.w, p.styles.Success.Render("✓ Akses diberikan"))
	case guard.OutcomeUnauthenticated:
		fmt.Fprintln(p.w, p.styles.Error.Render("✗ Anda harus login untuk mengakses halaman ini."))
	case guard.OutcomeForbidden:
		fmt.Fprintln(p.w, p.styles.Error.Render("✗ Access denied."))
		roles, perms := d.Missing()
		var b strings.Builder
		b.WriteString(p.row("Required roles", joinOrDash(roles)))
		b.WriteString(p.row("Required permissions", joinOrDash(perms)))
		if d.Kind == guard.KindBoth {
			b.WriteString(p.styles.Muted.Render("semua role dan permission dibutuhkan"))
		}
		fmt.Fprintln(p.w, p.styles.Box.Render(strings.TrimRight(b.String(), "\n")))
	default:
		fmt.Fprintln(p.w, p.styles.Warning.Render("… Memuat"))
	}
	fmt.Fprintln(p.w, p.styles.Muted.Render(fmt.Sprintf("policy: %s, outcome: %s", d.Kind, d.Outcome)))
}

func (p *Printer) row(label, value string) string {
	if value == "" {
		value = "-"
	}
	return p.styles.Label.Render(fmt.Sprintf("%-21s", label)) + " " + value + "\n"
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinOrDash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ", ")
}
