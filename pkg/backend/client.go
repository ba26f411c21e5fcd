// Package backend клиент внешнего REST backend'а панели администратора.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"PemkoPortal/pkg/errors"
	"PemkoPortal/pkg/identity"
	"PemkoPortal/pkg/logger"
)

const (
	userAgent    = "PemkoPortal/1.0"
	maxBodyBytes = 1 << 20
)

// Client HTTP клиент backend'а
type Client struct {
	baseURL string
	client  *http.Client
	log     logger.Logger
}

// Option настраивает Client
type Option func(*Client)

// WithHTTPClient подменяет http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithLogger задает логгер
func WithLogger(log logger.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient создает клиента backend'а с таймаутом на каждый вызов
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoginResult ответ на успешный вход
type LoginResult struct {
	Token string         `json:"token"`
	User  *identity.User `json:"user"`
}

type errorBody struct {
	Message string              `json:"message"`
	Error   string              `json:"error"`
	Errors  map[string][]string `json:"errors"`
}

// CurrentUser возвращает пользователя по токену (GET /api/user).
// Любой ответ, кроме 200, означает, что токен недействителен
func (c *Client) CurrentUser(ctx context.Context, token string) (*identity.User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/user", token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		drain(resp.Body)
		return nil, statusError(resp.StatusCode, "current user request rejected")
	}

	var body struct {
		User *identity.User `json:"user"`
	}
	if err := decode(resp.Body, &body); err != nil {
		return nil, err
	}
	if body.User == nil {
		return nil, errors.New(errors.ErrInternal, "backend response has no user")
	}

	return body.User, nil
}

// Login обменивает email и пароль на токен (POST /api/login).
// 422 возвращается как ErrValidation с ошибками по полям, 401 как ErrUnauthorized.
// Message ошибки содержит текст для пользователя
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	payload, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to encode login request")
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/login", "", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result LoginResult
		if err := decode(resp.Body, &result); err != nil {
			return nil, err
		}
		if result.Token == "" || result.User == nil {
			return nil, errors.New(errors.ErrInternal, "Login gagal. Silakan coba lagi.").
				WithDetails("backend login response has no token or user")
		}
		return &result, nil

	case http.StatusUnprocessableEntity:
		body := readError(resp.Body)
		return nil, errors.New(errors.ErrValidation, "Terdapat kesalahan pada input form").
			WithFields(body.Errors)

	case http.StatusUnauthorized:
		body := readError(resp.Body)
		return nil, errors.New(errors.ErrUnauthorized, firstNonEmpty(body.Message, "Email atau password tidak valid"))

	default:
		body := readError(resp.Body)
		code := errors.ErrInternal
		if resp.StatusCode >= 500 {
			code = errors.ErrUnavailable
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			code = errors.ErrTooManyRequests
		}
		return nil, errors.New(code, firstNonEmpty(body.Message, body.Error, "Login gagal. Silakan coba lagi.")).
			WithDetails(fmt.Sprintf("status %d", resp.StatusCode))
	}
}

// Roles возвращает каталог ролей (GET /api/roles)
func (c *Client) Roles(ctx context.Context, token string) ([]identity.Role, error) {
	var roles []identity.Role
	if err := c.getList(ctx, "/api/roles", token, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// Permissions возвращает каталог прав (GET /api/permissions/all)
func (c *Client) Permissions(ctx context.Context, token string) ([]identity.Permission, error) {
	var perms []identity.Permission
	if err := c.getList(ctx, "/api/permissions/all", token, &perms); err != nil {
		return nil, err
	}
	return perms, nil
}

// HealthCheck проверяет, что backend отвечает по HTTP. Статус ответа не важен
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/user", "", nil)
	if err != nil {
		return err
	}
	drain(resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("backend returned status %d", resp.StatusCode)
	}
	return nil
}

// getList принимает как {"data": [...]}, так и голый массив
func (c *Client) getList(ctx context.Context, path, token string, out interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		drain(resp.Body)
		return statusError(resp.StatusCode, "catalog request rejected")
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return errors.Wrap(err, errors.ErrUnavailable, "failed to read backend response")
	}
	raw = bytes.TrimSpace(raw)

	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, out); err != nil {
			return errors.Wrap(err, errors.ErrInternal, "failed to decode backend response")
		}
		return nil
	}

	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to decode backend response")
	}
	if len(wrapped.Data) == 0 || string(wrapped.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(wrapped.Data, out); err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to decode backend response data")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to create backend request")
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if id := logger.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		// context.DeadlineExceeded должен остаться в цепочке для errors.Is
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrap(ctxErr, errors.ErrUnavailable, "backend request aborted")
		}
		return nil, errors.Wrap(err, errors.ErrUnavailable, "backend request failed")
	}

	c.log.Debug("Backend request",
		logger.CtxField(ctx),
		logger.String("method", method),
		logger.String("path", path),
		logger.Int("status", resp.StatusCode),
		logger.Duration("took", time.Since(start)),
	)

	return resp, nil
}

func statusError(status int, message string) *errors.Error {
	code := errors.ErrUnauthorized
	if status >= 500 {
		code = errors.ErrUnavailable
	}
	return errors.New(code, message).WithDetails(fmt.Sprintf("status %d", status))
}

func decode(r io.Reader, out interface{}) error {
	if err := json.NewDecoder(io.LimitReader(r, maxBodyBytes)).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to decode backend response")
	}
	return nil
}

func readError(r io.Reader) errorBody {
	var body errorBody
	_ = json.NewDecoder(io.LimitReader(r, maxBodyBytes)).Decode(&body)
	return body
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, maxBodyBytes))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
