package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"file-service/internal/apperr"
	"file-service/internal/mail"
	"file-service/internal/metrics"
	"file-service/internal/policy"
	"file-service/internal/user"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidRefreshToken = fmt.Errorf("invalid or expired refresh token: %w", apperr.ErrUnauthorized)


// TokenStore persists refresh tokens. *Repository is the bun implementation.
type TokenStore interface {
	CreateRefreshToken(ctx context.Context, userID int64, token string, expiresAt time.Time) error
	ConsumeRefreshToken(ctx context.Context, token string) (*RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, token string) error
	DeleteAllUserTokens(ctx context.Context, userID int64) error
}

// Service authenticates users and manages their credentials.
type Service struct {
	authRepo     TokenStore
	userRepo     user.Repository
	tokens       *TokenIssuer
	tickets      *TicketIssuer
	mailer       mail.Sender
	resetBaseURL string
	refreshTTL   time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

type ServiceConfig struct {
	Tokens       *TokenIssuer
	Tickets      *TicketIssuer
	Mailer       mail.Sender
	ResetBaseURL string
	RefreshTTL   time.Duration
}

func NewService(authRepo TokenStore, userRepo user.Repository, cfg ServiceConfig, m *metrics.Metrics, logger *slog.Logger) *Service {
	refreshTTL := cfg.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &Service{
		authRepo:     authRepo,
		userRepo:     userRepo,
		tokens:       cfg.Tokens,
		tickets:      cfg.Tickets,
		mailer:       cfg.Mailer,
		resetBaseURL: cfg.ResetBaseURL,
		refreshTTL:   refreshTTL,
		metrics:      m,
		logger:       logger,
	}
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// compareDummy burns roughly the time of a real bcrypt comparison so unknown
// emails cannot be told apart from wrong passwords by latency.
func compareDummy(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// Authenticate checks email and password. Unknown email and wrong password
// yield the same apperr.ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*user.User, error) {
	u, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			compareDummy(password)
			return nil, apperr.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.ErrInvalidCredentials
	}
	if !u.Role.Valid() {
		return nil, apperr.ErrInvalidCredentials
	}
	return u, nil
}

// Login authenticates a user and returns a token pair
func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	u, err := s.Authenticate(ctx, req.Email, req.Password)
	s.metrics.Files.RecordLogin(ctx, err == nil)
	if err != nil {
		return nil, err
	}
	return s.generateTokenPair(ctx, u)
}

// Refresh rotates a refresh token: the presented one is consumed and a new pair issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	stored, err := s.authRepo.ConsumeRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}

	u, err := s.userRepo.GetByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}
	return s.generateTokenPair(ctx, u)
}

// Logout invalidates refresh token
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.authRepo.DeleteRefreshToken(ctx, refreshToken)
}

// Me returns the profile of the authenticated caller.
func (s *Service) Me(ctx context.Context, p *policy.Principal) (*user.Profile, error) {
	if p == nil {
		return nil, apperr.ErrUnauthorized
	}
	u, err := s.userRepo.GetByID(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return nil, apperr.ErrUnauthorized
		}
		return nil, err
	}
	profile := u.Profile()
	return &profile, nil
}

// RequestPasswordReset mails a reset ticket when the email belongs to an
// account. Unknown emails return nil. A mail failure is returned wrapped in
// apperr.ErrMailUnavailable; callers must not reveal it to the requester.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			s.logger.InfoContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	ticket, err := s.tickets.Issue(u.ID, u.PasswordHash)
	if err != nil {
		return err
	}
	s.metrics.Files.RecordResetRequested(ctx)

	link := mail.PasswordResetLink(s.resetBaseURL, ticket)
	msg, err := mail.PasswordResetMessage(u.Email, displayName(u), link, s.tickets.TTL().String())
	if err != nil {
		return err
	}

	if err := s.mailer.Send(ctx, msg); err != nil {
		s.metrics.Files.RecordMailFailure(ctx)
		if !errors.Is(err, apperr.ErrMailUnavailable) {
			err = fmt.Errorf("%w: %v", apperr.ErrMailUnavailable, err)
		}
		return err
	}

	s.logger.InfoContext(ctx, "password reset email sent", "user_id", u.ID)
	return nil
}

// ResetPassword redeems a ticket. Every way the ticket can fail (bad
// signature, expired, unknown user, password already changed) is reported as
// apperr.ErrInvalidOrExpiredTicket.
func (s *Service) ResetPassword(ctx context.Context, ticket, newPassword string) error {
	if err := user.ValidatePassword(newPassword); err != nil {
		return err
	}

	userID, fingerprint, err := s.tickets.Parse(ticket)
	if err != nil {
		s.logger.InfoContext(ctx, "reset ticket rejected", "error", err)
		return apperr.ErrInvalidOrExpiredTicket
	}

	u, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return apperr.ErrInvalidOrExpiredTicket
		}
		return err
	}
	if !s.tickets.Matches(fingerprint, u.PasswordHash) {
		return apperr.ErrInvalidOrExpiredTicket
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.userRepo.ReplacePasswordHash(ctx, u.ID, u.PasswordHash, string(newHash)); err != nil {
		if errors.Is(err, user.ErrPasswordChanged) {
			return apperr.ErrInvalidOrExpiredTicket
		}
		return err
	}

	if err := s.authRepo.DeleteAllUserTokens(ctx, u.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke refresh tokens after password reset", "user_id", u.ID, "error", err)
	}

	s.metrics.Files.RecordResetRedeemed(ctx)
	s.logger.InfoContext(ctx, "password reset", "user_id", u.ID)
	return nil
}

// generateTokenPair creates access and refresh tokens
func (s *Service) generateTokenPair(ctx context.Context, u *user.User) (*AuthResponse, error) {
	accessToken, err := s.tokens.GenerateAccessToken(u.Principal())
	if err != nil {
		return nil, err
	}

	refreshToken, err := GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(s.refreshTTL)
	if err := s.authRepo.CreateRefreshToken(ctx, u.ID, refreshToken, expiresAt); err != nil {
		return nil, err
	}

	return &AuthResponse{
		Access:  accessToken,
		Refresh: refreshToken,
		User:    u.Profile(),
	}, nil
}

func displayName(u *user.User) string {
	if u.FirstName != "" {
		return u.FirstName
	}
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}
