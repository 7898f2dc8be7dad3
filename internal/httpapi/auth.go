package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"rollyshop/backend/internal/domain"
	"rollyshop/backend/internal/service"
	"rollyshop/backend/internal/store"
)

const (
	tokenIssuer      = "rollyshop"
	userStoreTimeout = 3 * time.Second
	minUsernameLen   = 4
	minPasswordLen   = 6
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errAccountInactive    = errors.New("account is inactive")
	errInvalidToken       = errors.New("invalid or expired token")
)

// AuthManager turns staff credentials into a domain.Actor and back. Tokens
// carry the whole actor, so request handling never goes back to the roster.
type AuthManager struct {
	secret    []byte
	tokenTTL  time.Duration
	pinHash   string
	userStore UserStore

	mu     sync.RWMutex
	roster map[string]staffAccount
}

// UserStore is the subset of store.Repository that holds staff accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type staffAccount struct {
	actor   domain.Actor
	hash    string
	active  bool
	created time.Time
}

func accountFrom(user domain.UserAccount, hash string) staffAccount {
	return staffAccount{
		actor: domain.Actor{
			Username: normalizeUsername(user.Username),
			Name:     strings.TrimSpace(user.FullName),
			Role:     user.Role,
		},
		hash:    hash,
		active:  user.Active,
		created: user.CreatedAt,
	}
}

func (s staffAccount) cashierView() domain.CashierUser {
	return domain.CashierUser{
		Username:  s.actor.Username,
		FullName:  s.actor.Name,
		Role:      s.actor.Role,
		Active:    s.active,
		CreatedAt: s.created,
	}
}

type actorClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

func claimsFor(actor domain.Actor, issuedAt time.Time, expiresAt time.Time) actorClaims {
	return actorClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   actor.Username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwtlib.NewNumericDate(issuedAt),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role: actor.Role,
		Name: actor.Name,
	}
}

func (c actorClaims) actor() (domain.Actor, error) {
	if c.Subject == "" || c.Role == "" {
		return domain.Actor{}, errInvalidToken
	}
	return domain.Actor{Username: c.Subject, Name: c.Name, Role: c.Role}, nil
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	manager := &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		roster:    make(map[string]staffAccount),
	}
	// An empty PIN leaves pinHash unset, which disables cashier refunds.
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		if hash, err := hashSecret(pin); err == nil {
			manager.pinHash = hash
		}
	}
	manager.syncRoster(context.Background())
	return manager
}

// Authenticate resolves a username and password to the actor they belong to.
func (a *AuthManager) Authenticate(ctx context.Context, username string, password string) (domain.Actor, error) {
	a.syncRoster(ctx)

	a.mu.RLock()
	account, ok := a.roster[normalizeUsername(username)]
	a.mu.RUnlock()
	if !ok || !matchesHash(account.hash, password) {
		return domain.Actor{}, errInvalidCredentials
	}
	if !account.active {
		return domain.Actor{}, errAccountInactive
	}
	return account.actor, nil
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	actor, err := a.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return a.IssueToken(actor)
}

// IssueToken signs a bearer token that ParseToken turns back into actor.
func (a *AuthManager) IssueToken(actor domain.Actor) (domain.LoginResponse, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(a.tokenTTL)
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claimsFor(actor, now, expiresAt)).SignedString(a.secret)
	if err != nil {
		return domain.LoginResponse{}, fmt.Errorf("sign token: %w", err)
	}
	return domain.LoginResponse{
		AccessToken: signed,
		Role:        actor.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	var claims actorClaims
	_, err := jwtlib.ParseWithClaims(tokenStr, &claims, func(*jwtlib.Token) (interface{}, error) {
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithIssuer(tokenIssuer), jwtlib.WithExpirationRequired())
	if err != nil {
		return domain.Actor{}, errInvalidToken
	}
	return claims.actor()
}

// AuthorizeRefund lets admins refund on their own authority. Any other actor
// needs the manager PIN.
func (a *AuthManager) AuthorizeRefund(actor domain.Actor, pin string) error {
	if actor.Role == domain.RoleAdmin {
		return nil
	}
	if a.pinHash == "" || !matchesHash(a.pinHash, strings.TrimSpace(pin)) {
		return fmt.Errorf("%w: invalid manager pin", service.ErrForbidden)
	}
	return nil
}

func (a *AuthManager) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	a.syncRoster(ctx)

	user := domain.UserAccount{
		Username:  normalizeUsername(req.Username),
		FullName:  strings.TrimSpace(req.FullName),
		Role:      domain.RoleCashier,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := validateNewAccount(user.Username, req.Password); err != nil {
		return domain.CashierUser{}, err
	}

	a.mu.RLock()
	_, taken := a.roster[user.Username]
	a.mu.RUnlock()
	if taken {
		return domain.CashierUser{}, fmt.Errorf("%w: username %q already exists", store.ErrValidation, user.Username)
	}

	hash, err := hashSecret(req.Password)
	if err != nil {
		return domain.CashierUser{}, fmt.Errorf("hash password: %w", err)
	}
	user.Password = hash

	if a.userStore != nil {
		ctx, cancel := context.WithTimeout(ctx, userStoreTimeout)
		defer cancel()
		if err := a.userStore.CreateUser(ctx, user); err != nil {
			return domain.CashierUser{}, err
		}
	}

	account := accountFrom(user, hash)
	a.mu.Lock()
	a.roster[user.Username] = account
	a.mu.Unlock()
	return account.cashierView(), nil
}

func (a *AuthManager) ListCashiers(ctx context.Context) []domain.CashierUser {
	a.syncRoster(ctx)

	a.mu.RLock()
	cashiers := make([]domain.CashierUser, 0, len(a.roster))
	for _, account := range a.roster {
		if account.actor.Role == domain.RoleCashier {
			cashiers = append(cashiers, account.cashierView())
		}
	}
	a.mu.RUnlock()

	sort.Slice(cashiers, func(i, j int) bool {
		return cashiers[i].Username < cashiers[j].Username
	})
	return cashiers
}

// syncRoster reloads accounts from the user store so staff created by other
// instances can log in. Stored plain-text passwords are rehashed in place.
func (a *AuthManager) syncRoster(ctx context.Context) {
	if a.userStore == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, userStoreTimeout)
	defer cancel()

	users, err := a.userStore.ListUsers(ctx)
	if err != nil || len(users) == 0 {
		return
	}

	fresh := make(map[string]staffAccount, len(users))
	for _, user := range users {
		username := normalizeUsername(user.Username)
		if username == "" {
			continue
		}
		fresh[username] = accountFrom(user, a.upgradeLegacyPassword(ctx, username, user.Password))
	}

	a.mu.Lock()
	for username, account := range fresh {
		a.roster[username] = account
	}
	a.mu.Unlock()
}

func (a *AuthManager) upgradeLegacyPassword(ctx context.Context, username string, stored string) string {
	if isBcryptHash(stored) {
		return stored
	}
	hash, err := hashSecret(stored)
	if err != nil {
		return stored
	}
	_ = a.userStore.UpdateUserPassword(ctx, username, hash)
	return hash
}

func validateNewAccount(username string, password string) error {
	switch {
	case len(username) < minUsernameLen:
		return fmt.Errorf("%w: username must be at least %d characters", store.ErrValidation, minUsernameLen)
	case strings.ContainsAny(username, " \t\r\n"):
		return fmt.Errorf("%w: username must not contain spaces", store.ErrValidation)
	case len(strings.TrimSpace(password)) < minPasswordLen:
		return fmt.Errorf("%w: password must be at least %d characters", store.ErrValidation, minPasswordLen)
	}
	return nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func matchesHash(hash string, input string) bool {
	if strings.TrimSpace(input) == "" || !isBcryptHash(hash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(input)) == nil
}

func hashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func isBcryptHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
