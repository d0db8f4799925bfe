package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
)

// AccountCounter reports how many identities exist, used to open
// registration for the first administrator
type AccountCounter interface {
	Count(ctx context.Context) (int, error)
}

type AuthControllerRoutes struct {
	Home         string
	Login        string
	Logout       string
	Register     string
	Unauthorized string
	Users        string
	Roles        string
}

type AuthControllerViews struct {
	Login        string
	Register     string
	Unauthorized string
	Placeholder  string
}

type AuthController struct {
	Debug                 bool
	Logger                Logger
	Sessions              *HTTPSessions
	Admin                 *UserAdmin
	Accounts              AccountCounter
	Limiter               *LoginLimiter
	AllowSelfRegistration bool
	Routes                *AuthControllerRoutes
	Views                 *AuthControllerViews
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerLogger(l Logger) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		_, ac.Logger = ResolveLogger("auth.http", nil, l)
		return ac
	}
}

func WithSessions(s *HTTPSessions) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Sessions = s
		return ac
	}
}

func WithUserAdmin(a *UserAdmin) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Admin = a
		return ac
	}
}

func WithAccountCounter(c AccountCounter) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Accounts = c
		return ac
	}
}

func WithLoginLimiter(l *LoginLimiter) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Limiter = l
		return ac
	}
}

func WithSelfRegistration(enabled bool) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.AllowSelfRegistration = enabled
		return ac
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	_, logger := ResolveLogger("auth.http", nil, nil)
	c := &AuthController{
		Logger: logger,
		Routes: &AuthControllerRoutes{
			Home:         DefaultHomePath,
			Login:        DefaultLoginPath,
			Logout:       "/logout",
			Register:     "/register",
			Unauthorized: DefaultUnauthorizedPath,
			Users:        "/settings/users",
			Roles:        "/settings/roles",
		},
		Views: &AuthControllerViews{
			Login:        "login",
			Register:     "register",
			Unauthorized: "unauthorized",
			Placeholder:  "placeholder",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Sessions == nil {
		panic("Missing HTTPSessions in auth controller...")
	}

	if c.Admin == nil {
		panic("Missing UserAdmin in auth controller...")
	}

	return c
}

// RegisterAuthRoutes mounts the sign in, registration and user
// administration routes. Sign out is POST only.
func RegisterAuthRoutes[T any](app router.Router[T], controller *AuthController) {
	app.Get(controller.Routes.Login, controller.LoginShow).SetName("sign-in.get")
	app.Post(controller.Routes.Login, controller.LoginPost).SetName("sign-in.post")

	app.Post(controller.Routes.Logout, controller.LogOut).SetName("sign-out.post")

	app.Get(controller.Routes.Register, controller.RegistrationShow).SetName("register.get")
	app.Post(controller.Routes.Register, controller.RegistrationCreate).SetName("register.post")

	app.Get(controller.Routes.Unauthorized, controller.UnauthorizedShow).SetName("unauthorized.get")

	admin := controller.Sessions.Protect(AllowRoles(RoleAdmin))
	app.Get(controller.Routes.Roles, controller.RolesList, admin).SetName("roles.list")
	app.Get(controller.Routes.Users, controller.UsersList, admin).SetName("users.list")
	app.Post(controller.Routes.Users, controller.UsersCreate, admin).SetName("users.create")
	app.Get(controller.Routes.Users+"/:id", controller.UsersGet, admin).SetName("users.get")
	app.Patch(controller.Routes.Users+"/:id", controller.UsersUpdate, admin).SetName("users.update")
	app.Delete(controller.Routes.Users+"/:id", controller.UsersDelete, admin).SetName("users.delete")
}

// RegisterBreweryRoutes mounts the guarded pages and sends unknown routes
// home. It must be registered last.
func RegisterBreweryRoutes[T any](app router.Router[T], controller *AuthController, routes []Route) {
	for _, route := range routes {
		route := route
		app.Get(route.Path, controller.placeholder(route), controller.Sessions.Protect(route.Allow)).
			SetName("brewery" + strings.ReplaceAll(route.Path, "/", "."))
	}

	app.Get("/*", func(c router.Context) error {
		return c.Redirect(controller.Routes.Home, http.StatusFound)
	}).SetName("fallback")
}

func (a *AuthController) placeholder(route Route) router.HandlerFunc {
	return func(c router.Context) error {
		s, _ := GetRouterSession(c)
		return a.render(c, http.StatusOK, a.Views.Placeholder, s, router.ViewContext{
			"title": route.Title,
			"path":  c.Path(),
		})
	}
}

type navItem struct {
	Path  string
	Title string
}

// navigation lists the pages the session may open
func navigation(s Session) []navItem {
	var out []navItem
	for _, r := range BreweryRoutes() {
		if strings.Contains(r.Path, ":") {
			continue
		}
		if Evaluate(s.Loading, s.Profile, r.Allow) == GuardGranted {
			out = append(out, navItem{Path: r.Path, Title: r.Title})
		}
	}
	return out
}

// LoginRequest payload
type LoginRequest struct {
	Email        string `form:"email" json:"email"`
	Password     string `form:"password" json:"password"`
	StayLoggedIn string `form:"stay_logged_in" json:"stay_logged_in"`
}

// GetExtendedSession reports the stay logged in checkbox
func (r LoginRequest) GetExtendedSession() bool {
	switch strings.ToLower(strings.TrimSpace(r.StayLoggedIn)) {
	case "on", "true", "1", "yes":
		return true
	default:
		return false
	}
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.By(validEmail)),
		validation.Field(&r.Password, validation.Required),
	)
}

func validEmail(value interface{}) error {
	s, _ := value.(string)
	if s != "" && !isEmail(normalizeEmail(s)) {
		return errors.New("must be a valid email address", errors.CategoryValidation)
	}
	return nil
}

func (a *AuthController) LoginShow(c router.Context) error {
	s, err := a.Sessions.Current(c)
	if err == nil && s.Authenticated() {
		return c.Redirect(a.Routes.Home, http.StatusFound)
	}

	return a.render(c, http.StatusOK, a.Views.Login, Session{}, router.ViewContext{
		"errors": nil,
		"record": LoginRequest{StayLoggedIn: "on"},
	})
}

func (a *AuthController) LoginPost(c router.Context) error {
	payload := new(LoginRequest)

	if err := c.Bind(payload); err != nil {
		a.Logger.Error("login parse payload", "error", err)
		return a.renderFlashError(c, http.StatusBadRequest, a.Views.Login, Session{}, MessageSignInFailed, router.ViewContext{
			"record": payload,
		})
	}

	if err := payload.Validate(); err != nil {
		return a.renderFlashError(c, http.StatusBadRequest, a.Views.Login, Session{}, MessageInvalidCredentials, router.ViewContext{
			"validation": formatValidationErrors(err),
			"record":     payload,
		})
	}

	if a.Limiter != nil && !a.Limiter.Allow(c.IP()) {
		a.Logger.Warn("login rate limit exceeded", "ip", c.IP())
		return a.renderFlashError(c, StatusCode(ErrTooManyAttempts), a.Views.Login, Session{}, SignInMessage(ErrTooManyAttempts), router.ViewContext{
			"record": payload,
		})
	}

	if a.Debug {
		fmt.Println("======= AUTH LOGIN ======")
		fmt.Println(print.MaybePrettyJSON(map[string]any{
			"email":          payload.Email,
			"stay_logged_in": payload.GetExtendedSession(),
		}))
		fmt.Println("=========================")
	}

	if err := a.Sessions.SignIn(c, payload.Email, payload.Password, payload.GetExtendedSession()); err != nil {
		return a.renderFlashError(c, StatusCode(err), a.Views.Login, Session{}, SignInMessage(err), router.ViewContext{
			"record": payload,
		})
	}

	return c.Redirect(a.Sessions.GetRedirect(c, a.Routes.Home), http.StatusSeeOther)
}

func (a *AuthController) LogOut(c router.Context) error {
	if err := a.Sessions.SignOut(c); err != nil {
		a.Logger.Error("logout error", "error", err)
	}
	return c.Redirect(a.Routes.Login, http.StatusSeeOther)
}

func (a *AuthController) UnauthorizedShow(c router.Context) error {
	s, _ := a.Sessions.Current(c)
	return a.render(c, http.StatusForbidden, a.Views.Unauthorized, s, nil)
}

// registrationOpen allows the first administrator to register, admins to
// create users, and anyone when self registration is enabled
func (a *AuthController) registrationOpen(c router.Context) (Session, bool, error) {
	s, err := a.Sessions.Current(c)
	if err != nil {
		return s, false, err
	}

	if a.AllowSelfRegistration || s.IsAdmin() {
		return s, true, nil
	}

	if a.Accounts == nil {
		return s, false, nil
	}

	n, err := a.Accounts.Count(c.Context())
	if err != nil {
		return s, false, err
	}
	return s, n == 0, nil
}

// RegistrationCreatePayload is the form paylaod
type RegistrationCreatePayload struct {
	DisplayName string `form:"display_name" json:"displayName"`
	Email       string `form:"email" json:"email"`
	Password    string `form:"password" json:"password"`
	Role        string `form:"role" json:"role"`
}

// Validate checks the fields the form can check before provisioning
func (r RegistrationCreatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.DisplayName, displayNameRules...),
		validation.Field(&r.Email, validation.Required, validation.By(validEmail)),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.Role, validation.Required, validation.In(
			string(RoleAdmin),
			string(RoleSales),
			string(RoleProduction),
		)),
	)
}

func (a *AuthController) RegistrationShow(c router.Context) error {
	s, open, err := a.registrationOpen(c)
	if err != nil {
		return a.renderError(c, err)
	}
	if !open {
		return c.Redirect(a.Routes.Login, http.StatusFound)
	}

	return a.render(c, http.StatusOK, a.Views.Register, s, router.ViewContext{
		"errors": nil,
		"roles":  ListRoles(),
		"record": RegistrationCreatePayload{Role: string(RoleAdmin)},
	})
}

func (a *AuthController) RegistrationCreate(c router.Context) error {
	s, open, err := a.registrationOpen(c)
	if err != nil {
		return a.renderError(c, err)
	}
	if !open {
		return c.Redirect(a.Routes.Login, http.StatusSeeOther)
	}

	payload := new(RegistrationCreatePayload)
	fail := func(status int, message string, extra router.ViewContext) error {
		bind := router.ViewContext{
			"roles":  ListRoles(),
			"record": payload,
		}
		for k, v := range extra {
			bind[k] = v
		}
		return a.renderFlashError(c, status, a.Views.Register, s, message, bind)
	}

	if err := c.Bind(payload); err != nil {
		a.Logger.Error("register user parse payload", "error", err)
		return fail(http.StatusBadRequest, MessageCreateUserFailed, nil)
	}

	if len(payload.Password) < MinPasswordLength {
		return fail(http.StatusBadRequest, MessagePasswordTooShort, nil)
	}

	if err := payload.Validate(); err != nil {
		return fail(http.StatusBadRequest, validationMessage(err), router.ViewContext{
			"validation": formatValidationErrors(err),
		})
	}

	if _, err := a.Sessions.CreateUser(c, payload.Email, payload.Password, payload.DisplayName, UserRole(payload.Role)); err != nil {
		a.Logger.Error("register user", "error", err)
		return fail(StatusCode(err), CreateUserMessage(err), nil)
	}

	data := a.viewData(c, s, router.ViewContext{
		"success":  MessageUserCreated,
		"redirect": a.Routes.Login,
		"roles":    ListRoles(),
		"record":   RegistrationCreatePayload{Role: string(RoleAdmin)},
	})
	return flash.WithSuccess(c, router.ViewContext{
		"system_message": MessageUserCreated,
	}).Status(http.StatusCreated).Render(a.Views.Register, data)
}

func validationMessage(err error) string {
	errs, ok := err.(validation.Errors)
	if !ok {
		return MessageCreateUserFailed
	}
	switch {
	case errs["email"] != nil:
		return MessageInvalidEmail
	case errs["role"] != nil:
		return MessageInvalidRole
	case errs["displayName"] != nil:
		return MessageDisplayName
	default:
		return MessageCreateUserFailed
	}
}

func formatValidationErrors(err error) map[string]string {
	out := map[string]string{}
	errs, ok := err.(validation.Errors)
	if !ok {
		out["form"] = err.Error()
		return out
	}
	for field, fieldErr := range errs {
		if fieldErr != nil {
			out[field] = fieldErr.Error()
		}
	}
	return out
}

// viewData merges the template helpers of s into bind
func (a *AuthController) viewData(c router.Context, s Session, bind router.ViewContext) router.ViewContext {
	data := router.ViewContext(TemplateHelpersWithContext(c, s))
	for k, v := range bind {
		data[k] = v
	}
	return data
}

func (a *AuthController) render(c router.Context, status int, view string, s Session, bind router.ViewContext) error {
	return c.Status(status).Render(view, a.viewData(c, s, bind))
}

// renderFlashError renders view with message as the page error and keeps
// it in the flash for the next request
func (a *AuthController) renderFlashError(c router.Context, status int, view string, s Session, message string, bind router.ViewContext) error {
	data := a.viewData(c, s, bind)
	data["error"] = message
	return flash.WithError(c, router.ViewContext{
		"error_message": message,
	}).Status(status).Render(view, data)
}

func (a *AuthController) renderError(c router.Context, err error) error {
	a.Logger.Error("request failed", "path", c.Path(), "error", err)
	code := StatusCode(err)
	return c.Status(code).SendString(http.StatusText(http.StatusInternalServerError))
}

func (a *AuthController) actor(c router.Context) Session {
	if s, ok := SessionFromContext(c.Context()); ok {
		return s
	}
	s, _ := GetRouterSession(c)
	return s
}

func (a *AuthController) jsonError(c router.Context, err error) error {
	return c.JSON(StatusCode(err), router.ViewContext{
		"error": router.ViewContext{
			"code":    TextCode(err),
			"message": CreateUserMessage(err),
		},
	})
}

func subjectParam(c router.Context) (string, error) {
	id := c.Param("id")
	if err := validation.Validate(id, validation.Required, is.UUID); err != nil {
		return "", withMetadata(ErrProfileNotFound, map[string]any{"id": id})
	}
	return id, nil
}

func (a *AuthController) RolesList(c router.Context) error {
	return c.JSON(http.StatusOK, router.ViewContext{"roles": ListRoles()})
}

func (a *AuthController) UsersList(c router.Context) error {
	users, err := a.Admin.ListUsers(c.Context(), a.actor(c))
	if err != nil {
		return a.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, router.ViewContext{"users": users})
}

func (a *AuthController) UsersGet(c router.Context) error {
	id, err := subjectParam(c)
	if err != nil {
		return a.jsonError(c, err)
	}

	profile, err := a.Admin.GetProfile(c.Context(), a.actor(c), id)
	if err != nil {
		return a.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, profile)
}

func (a *AuthController) UsersCreate(c router.Context) error {
	payload := new(RegistrationCreatePayload)
	if err := c.Bind(payload); err != nil {
		return a.jsonError(c, withMetadata(ErrInvalidDisplayName, map[string]any{"cause": err.Error()}))
	}

	if !a.actor(c).IsAdmin() {
		return a.jsonError(c, ErrForbidden)
	}

	profile, err := a.Sessions.CreateUser(c, payload.Email, payload.Password, payload.DisplayName, UserRole(payload.Role))
	if err != nil {
		return a.jsonError(c, err)
	}
	return c.JSON(http.StatusCreated, profile)
}

// UserUpdatePayload carries the fields an administrator may change
type UserUpdatePayload struct {
	DisplayName *string `json:"displayName"`
	Role        *string `json:"role"`
	IsActive    *bool   `json:"isActive"`
}

func (a *AuthController) UsersUpdate(c router.Context) error {
	id, err := subjectParam(c)
	if err != nil {
		return a.jsonError(c, err)
	}

	payload := new(UserUpdatePayload)
	if err := c.Bind(payload); err != nil {
		return a.jsonError(c, withMetadata(ErrInvalidDisplayName, map[string]any{"cause": err.Error()}))
	}

	ctx := c.Context()
	actor := a.actor(c)

	if payload.Role != nil {
		if err := a.Admin.UpdateRole(ctx, actor, id, UserRole(*payload.Role)); err != nil {
			return a.jsonError(c, err)
		}
	}
	if payload.DisplayName != nil {
		if err := a.Admin.UpdateDisplayName(ctx, actor, id, *payload.DisplayName); err != nil {
			return a.jsonError(c, err)
		}
	}
	if payload.IsActive != nil {
		if err := a.Admin.SetActive(ctx, actor, id, *payload.IsActive); err != nil {
			return a.jsonError(c, err)
		}
	}

	profile, err := a.Admin.GetProfile(ctx, actor, id)
	if err != nil {
		return a.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, profile)
}

func (a *AuthController) UsersDelete(c router.Context) error {
	id, err := subjectParam(c)
	if err != nil {
		return a.jsonError(c, err)
	}

	if err := a.Admin.DeleteProfile(c.Context(), a.actor(c), id); err != nil {
		return a.jsonError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
