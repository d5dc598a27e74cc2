package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/iurnickita/cropchain/internal/auth/config"
	"github.com/iurnickita/cropchain/internal/model"
	"github.com/iurnickita/cropchain/internal/token"
)

// Auth - выбор роли. Это навигация, а не проверка личности:
// любой может выбрать любую роль, cookie лишь запоминает выбор.
type Auth interface {
	Roles(w http.ResponseWriter, r *http.Request)
	SelectRole(w http.ResponseWriter, r *http.Request)
	Leave(w http.ResponseWriter, r *http.Request)
	Middleware(h http.HandlerFunc, roles ...model.Role) http.HandlerFunc
}

const cookieSession = "cropchainSession"

type ctxKey struct{}

type auth struct {
	cfg    config.Config
	issuer token.Issuer
}

func NewAuth(cfg config.Config) Auth {
	return &auth{
		cfg:    cfg,
		issuer: token.NewIssuer(cfg.Secret, cfg.SessionTTL),
	}
}

// Session возвращает сессию, установленную Middleware.
func Session(ctx context.Context) (token.Session, bool) {
	session, ok := ctx.Value(ctxKey{}).(token.Session)
	return session, ok
}

type RoleJSONResponse struct {
	Role        string `json:"role"`
	Description string `json:"description"`
}

var roleDescriptions = map[model.Role]string{
	model.RoleFarmer:      "Grow and harvest produce",
	model.RoleTransporter: "Transport goods safely",
	model.RoleRetailer:    "Sell products to consumers",
	model.RoleConsumer:    "Purchase and use products",
}

func (a *auth) Roles(w http.ResponseWriter, r *http.Request) {
	var rolesJSON []RoleJSONResponse
	for _, role := range model.Roles {
		rolesJSON = append(rolesJSON, RoleJSONResponse{Role: string(role), Description: roleDescriptions[role]})
	}
	responseJSON, err := json.Marshal(rolesJSON)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(responseJSON)
}

type SessionJSONResponse struct {
	Role string `json:"role"`
	Name string `json:"name"`
}

func (a *auth) SelectRole(w http.ResponseWriter, r *http.Request) {
	role, ok := model.ParseRole(strings.ToLower(r.PathValue("role")))
	if !ok {
		http.Error(w, "unknown role", http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		name = DefaultName(role)
	}

	session := token.Session{Role: role, Name: name}
	tokenString, err := a.issuer.BuildJWTString(session)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieSession,
		Value:    tokenString,
		Path:     "/",
		HttpOnly: true,
		MaxAge:   int(a.cfg.SessionTTL.Seconds()),
	})

	responseJSON, err := json.Marshal(SessionJSONResponse{Role: string(role), Name: name})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(responseJSON)
}

func (a *auth) Leave(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieSession,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

// Middleware пропускает запрос, если выбрана роль из roles (пустой список - любая роль).
func (a *auth) Middleware(h http.HandlerFunc, roles ...model.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// получение сессии
		session, err := a.getSession(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		if !allowed(session.Role, roles) {
			http.Error(w, "action is not available for role "+string(session.Role), http.StatusForbidden)
			return
		}

		// передаём управление хендлеру
		h.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, session)))
	}
}

func (a *auth) getSession(r *http.Request) (token.Session, error) {
	tokenCookie, err := r.Cookie(cookieSession)
	if err != nil {
		return token.Session{}, err
	}
	return a.issuer.GetSession(tokenCookie.Value)
}

func allowed(role model.Role, roles []model.Role) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// DefaultName - имя участника по умолчанию, например Consumer_001.
func DefaultName(role model.Role) string {
	s := string(role)
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:] + "_001"
}
