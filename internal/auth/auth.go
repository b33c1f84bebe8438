package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/triviaquiz/triviaquiz/internal/db"
	apperrors "github.com/triviaquiz/triviaquiz/internal/errors"
	"github.com/triviaquiz/triviaquiz/internal/logger"
	"github.com/triviaquiz/triviaquiz/internal/metrics"
)

const (
	TokenExpiry = 24 * time.Hour
	BcryptCost  = 12
	Issuer      = "triviaquiz"
)

// Claims are the session token contents. The token is not stored server side.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

type SignUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token     string   `json:"token"`
	ExpiresIn int      `json:"expiresIn"`
	User      *db.User `json:"user"`
}

type Service struct {
	users      *db.UserRepository
	jwtSecret  []byte
	bcryptCost int
	now        func() time.Time
	log        *logger.Logger
	metrics    *metrics.Metrics

	compare   func(hash, password []byte) error
	dummyOnce sync.Once
	dummyHash []byte
}

type Option func(*Service)

// WithBcryptCost overrides the hashing cost, mainly to keep tests fast.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

// WithClock replaces the time source used for issuing and checking tokens.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(users *db.UserRepository, jwtSecret string, opts ...Option) *Service {
	s := &Service{
		users:      users,
		jwtSecret:  []byte(jwtSecret),
		bcryptCost: BcryptCost,
		now:        time.Now,
		log:        logger.Default().WithComponent("auth"),
		metrics:    metrics.Default(),
		compare:    bcrypt.CompareHashAndPassword,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignUp creates a user with zeroed counters.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*db.User, error) {
	if err := validateSignUp(&req); err != nil {
		return nil, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, apperrors.InternalError("failed to hash password").WithCause(err)
	}

	user := &db.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(passwordHash),
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, db.ErrEmailExists) {
			return nil, apperrors.EmailExists()
		}
		return nil, apperrors.DatabaseError("failed to create user").WithCause(err)
	}

	s.metrics.IncCounter("signups")
	s.log.Info(ctx, "user signed up", map[string]interface{}{"user_id": user.ID.String()})
	return user, nil
}

// SignIn checks the credentials and issues a session token. Unknown email and
// wrong password are indistinguishable to the caller.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (*AuthResponse, error) {
	email := NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, apperrors.BadRequest("email and password are required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			// Unknown emails cost one bcrypt compare, like a wrong password.
			s.compare(s.unknownUserHash(), []byte(req.Password))
			s.metrics.IncCounter("signin_failures")
			return nil, apperrors.InvalidCredentials()
		}
		return nil, apperrors.DatabaseError("failed to load user").WithCause(err)
	}

	if err := s.compare([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.metrics.IncCounter("signin_failures")
		return nil, apperrors.InvalidCredentials()
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return nil, apperrors.InternalError("failed to issue token").WithCause(err)
	}

	s.metrics.IncCounter("signins")
	return &AuthResponse{
		Token:     token,
		ExpiresIn: int(TokenExpiry.Seconds()),
		User:      user,
	}, nil
}

// unknownUserHash is a hash at the service's cost that no password matches.
func (s *Service) unknownUserHash() []byte {
	s.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("unknown-user-"+uuid.NewString()), s.bcryptCost)
		if err != nil {
			s.log.Error(context.Background(), "failed to build sign-in dummy hash", nil, err)
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

// IssueToken signs a 24h HS256 token for the user.
func (s *Service) IssueToken(user *db.User) (string, error) {
	now := s.now()
	claims := &Claims{
		UserID: user.ID.String(),
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken verifies signature, issuer and expiry.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.TokenExpired()
		}
		return nil, apperrors.InvalidToken("invalid session token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.InvalidToken("invalid session token")
	}
	if _, err := uuid.Parse(claims.UserID); err != nil {
		return nil, apperrors.InvalidToken("invalid user id in token")
	}

	return claims, nil
}

// CurrentUser resolves the user a valid token refers to.
func (s *Service) CurrentUser(ctx context.Context, userID uuid.UUID) (*db.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, apperrors.UserNotFound()
		}
		return nil, apperrors.DatabaseError("failed to load user").WithCause(err)
	}
	return user, nil
}
