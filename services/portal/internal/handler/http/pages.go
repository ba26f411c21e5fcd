package http

import (
	"html/template"
	"net/http"
	"strings"

	"PemkoPortal/pkg/errors"
	"PemkoPortal/pkg/logger"
	"PemkoPortal/pkg/session"
	"PemkoPortal/services/portal/internal/middleware"
	"PemkoPortal/services/portal/internal/policy"
	"PemkoPortal/services/portal/internal/render"
)

// Landing публичная главная страница
func (h *Handler) Landing(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, http.StatusOK, "landing", h.newPage(r, "Beranda", ""))
}

// LoginForm показывает форму входа. Вошедшего клиента уводит в панель
func (h *Handler) LoginForm(w http.ResponseWriter, r *http.Request) {
	if s, ok := session.FromContext(r.Context()); ok && s.State().IsAuthenticated {
		http.Redirect(w, r, h.validator.SafeRedirect(r.URL.Query().Get("next"), h.homePath), http.StatusSeeOther)
		return
	}

	data := h.newPage(r, "Admin Login", "")
	data.Form.Next = r.URL.Query().Get("next")
	h.renderPage(w, r, http.StatusOK, "login", data)
}

// Login обрабатывает отправку формы входа
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	s, ok := session.FromContext(ctx)
	if !ok {
		h.log.Error("Login without mounted session", logger.CtxField(ctx))
		h.renderError(w, r, errors.New(errors.ErrInternal, "session is not mounted"))
		return
	}

	if err := r.ParseForm(); err != nil {
		h.renderError(w, r, errors.Wrap(err, errors.ErrValidation, "malformed form"))
		return
	}

	data := h.newPage(r, "Admin Login", "")
	data.Form = loginForm{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Remember: r.PostFormValue("remember") != "",
		Next:     r.PostFormValue("next"),
	}
	password := r.PostFormValue("password")

	if fieldErrors := h.validator.ValidateLogin(data.Form.Email, password); !fieldErrors.Empty() {
		h.observeLogin("invalid_input")
		data.Form.Message = "Terdapat kesalahan pada input form"
		data.Form.Errors = fieldErrors
		h.renderPage(w, r, http.StatusUnprocessableEntity, "login", data)
		return
	}

	result, err := h.auth.Login(ctx, data.Form.Email, password)
	if err != nil {
		e, ok := errors.As(err)
		if !ok {
			e = errors.Wrap(err, errors.ErrInternal, "Login gagal. Silakan coba lagi.")
		}

		h.observeLogin(strings.ToLower(string(e.Code)))
		h.log.Info("Login rejected",
			logger.CtxField(ctx),
			logger.String("email", data.Form.Email),
			logger.String("code", string(e.Code)),
			logger.Error(err))

		data.Form.Message = e.Message
		// Сетевые ошибки и ошибки разбора ответа не показываются пользователю как есть
		if e.Cause != nil {
			data.Form.Message = "Login gagal. Silakan coba lagi."
		}
		data.Form.Errors = e.Fields
		h.renderPage(w, r, e.HTTPStatus(), "login", data)
		return
	}

	if err := s.Login(ctx, result.Token, result.User, session.PersistOptions{Remember: data.Form.Remember}); err != nil {
		h.observeLogin("error")
		h.log.Error("Failed to start session", logger.CtxField(ctx), logger.Error(err))
		data.Form.Message = "Login gagal. Silakan coba lagi."
		h.renderPage(w, r, http.StatusInternalServerError, "login", data)
		return
	}

	h.observeLogin("success")
	http.Redirect(w, r, h.validator.SafeRedirect(data.Form.Next, h.homePath), http.StatusSeeOther)
}

// Logout завершает сессию. Переход на страницу входа выполняет сессия
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	s, ok := session.FromContext(r.Context())
	if !ok {
		http.Redirect(w, r, h.loginPath, http.StatusSeeOther)
		return
	}
	if err := s.Logout(r.Context()); err != nil {
		h.log.Warn("Logout finished with store error", logger.CtxField(r.Context()), logger.Error(err))
	}
}

// Dashboard главная страница панели
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	data := h.newPage(r, "Dashboard", policy.Dashboard)

	if s, ok := session.FromContext(r.Context()); ok {
		data.Shortcuts = render.ShowForPermissions(s, []string{"view users"},
			`<a class="button outline" href="/admin/users">Kelola Pengguna</a>`) +
			render.ShowForPermissions(s, []string{"view roles", "view permissions"},
				`<a class="button outline" href="/admin/roles">Kelola Akses &amp; Izin</a>`) +
			render.HideForRoles(s, []string{"super_admin"},
				template.HTML(`<p class="hint">Hubungi super admin untuk menambah hak akses.</p>`))
	}

	h.renderPage(w, r, http.StatusOK, "dashboard", data)
}

// Users страница управления пользователями
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, http.StatusOK, "users", h.newPage(r, "Pengguna", policy.Users))
}

// Roles страница со списком ролей из каталога backend'а
func (h *Handler) Roles(w http.ResponseWriter, r *http.Request) {
	data := h.newPage(r, "Role", policy.Roles)
	names, err := h.catalog.RoleNames(r.Context(), sessionToken(r))
	if err != nil {
		h.log.Warn("Failed to load role catalog", logger.CtxField(r.Context()), logger.Error(err))
		data.Message = errors.New(errors.CodeOf(err), "").GetUserMessage()
	}
	data.Items = names
	h.renderPage(w, r, http.StatusOK, "roles", data)
}

// Permissions страница со списком прав из каталога backend'а
func (h *Handler) Permissions(w http.ResponseWriter, r *http.Request) {
	data := h.newPage(r, "Permission", policy.Permissions)
	names, err := h.catalog.PermissionNames(r.Context(), sessionToken(r))
	if err != nil {
		h.log.Warn("Failed to load permission catalog", logger.CtxField(r.Context()), logger.Error(err))
		data.Message = errors.New(errors.CodeOf(err), "").GetUserMessage()
	}
	data.Items = names
	h.renderPage(w, r, http.StatusOK, "permissions", data)
}

// NotFound страница 404
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	if middleware.WantsJSON(r) {
		errors.WriteJSON(w, errors.New(errors.ErrNotFound, "not found"))
		return
	}
	h.renderError(w, r, errors.New(errors.ErrNotFound, "not found"))
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, e *errors.Error) {
	data := h.newPage(r, http.StatusText(e.HTTPStatus()), "")
	data.Message = e.GetUserMessage()
	h.renderPage(w, r, e.HTTPStatus(), "error", data)
}

func sessionToken(r *http.Request) string {
	if s, ok := session.FromContext(r.Context()); ok {
		return s.State().Token
	}
	return ""
}
