package service

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"
	"sync"

	"go.uber.org/zap"

	"kycchain/internal/auth"
	"kycchain/internal/cache"
	"kycchain/internal/config"
	"kycchain/internal/faces"
	"kycchain/internal/ledger"
	"kycchain/internal/models"
	"kycchain/internal/notify"
	"kycchain/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidState       = errors.New("invalid application state")
	ErrExpired            = errors.New("verification expired")
	ErrConsentRequired    = errors.New("consent required")
)

// ValidationError carries a user-visible message for a 4xx response.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalidf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

type Service struct {
	cfg    config.Config
	st     *store.Store
	chain  *ledger.Chain
	tokens *auth.TokenIssuer
	sender notify.Sender
	cache  *cache.Cache
	log    *zap.Logger

	// In-memory registry of face embeddings for verified identities,
	// keyed by UKN. Restored lazily from stored uploads after a
	// restart; the durable record is the hash in the database.
	embMu      sync.RWMutex
	embeddings map[string]faces.Embedding
}

func New(cfg config.Config, st *store.Store, chain *ledger.Chain, sender notify.Sender, resolveCache *cache.Cache, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		cfg:        cfg,
		st:         st,
		chain:      chain,
		tokens:     auth.NewTokenIssuer(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.AccessTokenTTL),
		sender:     sender,
		cache:      resolveCache,
		log:        log,
		embeddings: map[string]faces.Embedding{},
	}
}

// Register creates a user or institution account. Reviewer and admin
// accounts are provisioned by an admin, never self-registered.
func (s *Service) Register(ctx context.Context, email, password, role string, phone *string) (models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := netmail.ParseAddress(email); err != nil {
		return models.User{}, invalidf("invalid email address")
	}
	if len(password) < s.cfg.PasswordMinLength {
		return models.User{}, invalidf("password must be at least %d characters", s.cfg.PasswordMinLength)
	}
	switch role {
	case "", models.RoleUser:
		role = models.RoleUser
	case models.RoleInstitution:
	default:
		return models.User{}, invalidf("role %q cannot self-register", role)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return models.User{}, err
	}
	u, err := s.st.CreateUser(ctx, email, phone, hash, role)
	if err != nil {
		return models.User{}, err
	}
	s.audit(ctx, "user", u.ID, "registered", map[string]any{"role": role}, email)
	return u, nil
}

// CreateStaffUser lets an admin provision reviewer and admin accounts.
func (s *Service) CreateStaffUser(ctx context.Context, actor models.User, email, password, role string) (models.User, error) {
	if actor.Role != models.RoleAdmin {
		return models.User{}, ErrForbidden
	}
	if role != models.RoleReviewer && role != models.RoleAdmin {
		return models.User{}, invalidf("role must be reviewer or admin")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := netmail.ParseAddress(email); err != nil {
		return models.User{}, invalidf("invalid email address")
	}
	if len(password) < s.cfg.PasswordMinLength {
		return models.User{}, invalidf("password must be at least %d characters", s.cfg.PasswordMinLength)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return models.User{}, err
	}
	u, err := s.st.CreateUser(ctx, email, nil, hash, role)
	if err != nil {
		return models.User{}, err
	}
	s.audit(ctx, "user", u.ID, "staff_created", map[string]any{"role": role}, actor.Email)
	return u, nil
}

// Login verifies credentials and returns a signed access token.
func (s *Service) Login(ctx context.Context, email, password string) (string, models.User, error) {
	u, err := s.st.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err == store.ErrNotFound {
		return "", models.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return "", models.User{}, err
	}
	if !auth.VerifyPassword(u.PasswordHash, password) {
		return "", models.User{}, ErrInvalidCredentials
	}
	token, err := s.tokens.Issue(u.ID, u.Email, u.Role)
	if err != nil {
		return "", models.User{}, err
	}
	return token, u, nil
}

// AuthenticateToken resolves a bearer token to its user. Satisfies
// middleware.Authenticator.
func (s *Service) AuthenticateToken(ctx context.Context, token string) (models.User, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return models.User{}, err
	}
	u, err := s.st.GetUserByID(ctx, claims.UserID)
	if err == store.ErrNotFound {
		return models.User{}, ErrInvalidCredentials
	}
	return u, err
}

func (s *Service) ListUsers(ctx context.Context, actor models.User, q models.UserQuery) ([]models.User, error) {
	if actor.Role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	return s.st.ListUsers(ctx, q)
}

// DeleteUser removes an account. Admin only, and never the admin's own.
func (s *Service) DeleteUser(ctx context.Context, actor models.User, userID string) error {
	if actor.Role != models.RoleAdmin {
		return ErrForbidden
	}
	if userID == actor.ID {
		return invalidf("cannot delete your own account")
	}
	if err := s.st.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.audit(ctx, "user", userID, "deleted", nil, actor.Email)
	return nil
}

// Ready reports whether the backing store and, when configured, the
// resolve cache are reachable.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.st.Ping(ctx); err != nil {
		return err
	}
	return s.cache.Ping(ctx)
}

// audit writes a hash-chained audit record and a ledger block for it.
// Audit failures are logged, never propagated: the business operation
// already happened.
func (s *Service) audit(ctx context.Context, entityType, entityID, eventType string, details map[string]any, performedBy string) {
	block, err := s.chain.Append("", nil, "", map[string]any{
		"entity_type": entityType,
		"entity_id":   entityID,
		"event_type":  eventType,
	}, performedBy)
	if err != nil {
		s.log.Warn("audit ledger append failed", zap.Error(err))
		return
	}
	if _, err := s.st.InsertAudit(ctx, models.AuditRecord{
		EntityType:  entityType,
		EntityID:    entityID,
		EventType:   eventType,
		EventHash:   strings.TrimPrefix(block.TxHash, "0x"),
		TxHash:      block.TxHash,
		Details:     details,
		PerformedBy: performedBy,
	}); err != nil {
		s.log.Warn("audit insert failed", zap.Error(err), zap.String("event", eventType))
	}
}

func (s *Service) rememberEmbedding(ukn string, e faces.Embedding) {
	s.embMu.Lock()
	s.embeddings[ukn] = e
	s.embMu.Unlock()
}

// restoreEmbeddings reloads registry entries for verified identities
// missing from memory, typically after a restart. Each embedding is
// recomputed from the stored identity document and only kept when it
// reproduces the hash recorded at approval time.
func (s *Service) restoreEmbeddings(ctx context.Context, excludeID string) {
	verified, err := s.st.ListVerifiedEmbeddings(ctx, excludeID)
	if err != nil {
		s.log.Warn("embedding registry restore failed", zap.Error(err))
		return
	}
	for _, v := range verified {
		s.embMu.RLock()
		_, ok := s.embeddings[v.UKN]
		s.embMu.RUnlock()
		if ok {
			continue
		}
		doc, err := s.st.LatestDocumentOfTypes(ctx, v.AppID, identityDocTypeList())
		if err != nil {
			continue
		}
		content, err := s.readUpload(doc.FilePath)
		if err != nil {
			continue
		}
		emb := faces.Embed(content)
		if faces.Hash(emb) != v.EmbeddingHash {
			continue
		}
		s.rememberEmbedding(v.UKN, emb)
	}
}

func (s *Service) knownEmbeddings() ([]string, []faces.Embedding) {
	s.embMu.RLock()
	defer s.embMu.RUnlock()
	ukns := make([]string, 0, len(s.embeddings))
	embs := make([]faces.Embedding, 0, len(s.embeddings))
	for ukn, e := range s.embeddings {
		ukns = append(ukns, ukn)
		embs = append(embs, e)
	}
	return ukns, embs
}
