// Package http содержит страницы и API портала
package http

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"PemkoPortal/pkg/backend"
	"PemkoPortal/pkg/guard"
	"PemkoPortal/pkg/identity"
	"PemkoPortal/pkg/logger"
	"PemkoPortal/pkg/metrics"
	"PemkoPortal/pkg/session"
	"PemkoPortal/pkg/validation"
	"PemkoPortal/services/portal/internal/policy"
	"PemkoPortal/services/portal/internal/render"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

var pageNames = []string{"landing", "login", "dashboard", "users", "roles", "permissions", "error"}

// Authenticator выполняет вход через backend
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*backend.LoginResult, error)
}

// CatalogReader отдает имена ролей и прав (authz.Catalog)
type CatalogReader interface {
	RoleNames(ctx context.Context, token string) ([]string, error)
	PermissionNames(ctx context.Context, token string) ([]string, error)
}

// Dependencies зависимости обработчиков
type Dependencies struct {
	Auth      Authenticator
	Catalog   CatalogReader
	Policies  *policy.Registry
	Validator *validation.Validator
	// Metrics необязателен
	Metrics *metrics.Metrics
	Logger  logger.Logger

	LoginPath string
	HomePath  string
}

// Handler обработчики страниц и API портала
type Handler struct {
	auth      Authenticator
	catalog   CatalogReader
	policies  *policy.Registry
	validator *validation.Validator
	metrics   *metrics.Metrics
	log       logger.Logger

	loginPath string
	homePath  string

	pages map[string]*template.Template
}

// NewHandler создает обработчики и разбирает встроенные шаблоны
func NewHandler(deps Dependencies) (*Handler, error) {
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}

	h := &Handler{
		auth:      deps.Auth,
		catalog:   deps.Catalog,
		policies:  deps.Policies,
		validator: deps.Validator,
		metrics:   deps.Metrics,
		log:       deps.Logger,
		loginPath: deps.LoginPath,
		homePath:  deps.HomePath,
		pages:     pages,
	}
	if h.policies == nil {
		h.policies = policy.Default()
	}
	if h.validator == nil {
		h.validator = validation.NewValidator()
	}
	if h.log == nil {
		h.log = logger.NewNop()
	}
	if h.loginPath == "" {
		h.loginPath = session.DefaultLoginPath
	}
	if h.homePath == "" {
		h.homePath = "/admin/dashboard"
	}
	return h, nil
}

func parsePages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New(name).
			Funcs(render.FuncMap(nil, nil)).
			ParseFS(templateFS, "templates/base.html", "templates/sidebar.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = t
	}
	return pages, nil
}

// Static отдает встроенные стили
func Static() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

// loginForm состояние формы входа
type loginForm struct {
	Email    string
	Remember bool
	Next     string
	Message  string
	Errors   map[string][]string
}

// pageData данные шаблона страницы
type pageData struct {
	Title         string
	Active        string
	User          *identity.User
	Authenticated bool
	LoginPath     string
	HomePath      string

	Form      loginForm
	Items     []string
	Message   string
	Shortcuts template.HTML
}

func (h *Handler) newPage(r *http.Request, title, active string) pageData {
	data := pageData{
		Title:     title,
		Active:    active,
		LoginPath: h.loginPath,
		HomePath:  h.homePath,
	}
	if s, ok := session.FromContext(r.Context()); ok {
		st := s.State()
		data.Authenticated = st.IsAuthenticated
		data.User = st.User
	}
	return data
}

// canAccess проверяет политику раздела для сессии запроса
func (h *Handler) canAccess(s *session.Session) render.AccessFunc {
	return func(feature string) bool {
		p, ok := h.policies.Get(feature)
		if !ok {
			return false
		}
		return guard.Evaluate(s.State(), p).Granted()
	}
}

// renderPage выполняет шаблон с функциями доступа текущей сессии.
// Ответ буферизуется, чтобы ошибка шаблона не оставила половину страницы
func (h *Handler) renderPage(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	base, ok := h.pages[name]
	if !ok {
		h.log.Error("Unknown page template", logger.CtxField(r.Context()), logger.String("page", name))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	t, err := base.Clone()
	if err != nil {
		h.log.Error("Failed to clone template", logger.CtxField(r.Context()), logger.String("page", name), logger.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if s, ok := session.FromContext(r.Context()); ok {
		t.Funcs(render.FuncMap(s, h.canAccess(s)))
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "base", data); err != nil {
		h.log.Error("Failed to render page", logger.CtxField(r.Context()), logger.String("page", name), logger.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) observeLogin(result string) {
	if h.metrics != nil {
		h.metrics.ObserveLogin(result)
	}
}
