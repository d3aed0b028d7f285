// Package app builds the repository and service graph shared by the server, the worker and medilinkctl.
package app

import (
	"database/sql"

	"go.uber.org/zap"

	"medilink/internal/audit"
	auditrepo "medilink/internal/audit/repository"
	auditservice "medilink/internal/audit/service"
	billingrepo "medilink/internal/billing/repository"
	billingservice "medilink/internal/billing/service"
	"medilink/internal/config"
	creditsrepo "medilink/internal/credits/repository"
	creditsservice "medilink/internal/credits/service"
	"medilink/internal/db"
	disputerepo "medilink/internal/dispute/repository"
	disputeservice "medilink/internal/dispute/service"
	equipmentrepo "medilink/internal/equipment/repository"
	equipmentservice "medilink/internal/equipment/service"
	"medilink/internal/events"
	identityrepo "medilink/internal/identity/repository"
	identityservice "medilink/internal/identity/service"
	membershiprepo "medilink/internal/membership/repository"
	membershipservice "medilink/internal/membership/service"
	orgrepo "medilink/internal/organization/repository"
	orgservice "medilink/internal/organization/service"
	"medilink/internal/platform/logger"
	"medilink/internal/portal"
	"medilink/internal/security"
	srrepo "medilink/internal/servicerequest/repository"
	srservice "medilink/internal/servicerequest/service"
	sessionrepo "medilink/internal/session/repository"
	userrepo "medilink/internal/user/repository"
)

// Options configures Build. Publisher and DisputeEngine may be nil.
type Options struct {
	Config        *config.Config
	Tokens        *security.TokenProvider
	Publisher     events.Publisher
	DisputeEngine disputeservice.Engine
	Log           *zap.Logger
}

// Repos holds the Postgres repositories.
type Repos struct {
	Users       *userrepo.PostgresRepository
	Identities  *identityrepo.PostgresRepository
	Sessions    *sessionrepo.PostgresRepository
	Orgs        *orgrepo.PostgresRepository
	Memberships *membershiprepo.PostgresRepository
	Equipment   *equipmentrepo.PostgresRepository
	Requests    *srrepo.PostgresRepository
	Disputes    *disputerepo.PostgresRepository
	Billing     *billingrepo.PostgresRepository
	Credits     *creditsrepo.PostgresRepository
	Audit       *auditrepo.PostgresRepository
}

// Services holds every use-case service.
type Services struct {
	Repos       Repos
	AuditLogger *audit.Logger
	Auth        *identityservice.AuthService
	Orgs        *orgservice.Service
	Members     *membershipservice.Service
	Equipment   *equipmentservice.Service
	Requests    *srservice.Service
	Disputes    *disputeservice.Service
	Billing     *billingservice.Service
	Credits     *creditsservice.Service
	Audit       *auditservice.Service
	Resolver    *portal.Resolver
}

// Build wires the services on conn.
func Build(conn *sql.DB, opts Options) *Services {
	log := logger.OrNop(opts.Log)
	cfg := opts.Config
	tx := db.NewTransactor(conn)

	r := Repos{
		Users:       userrepo.NewPostgresRepository(conn),
		Identities:  identityrepo.NewPostgresRepository(conn),
		Sessions:    sessionrepo.NewPostgresRepository(conn),
		Orgs:        orgrepo.NewPostgresRepository(conn),
		Memberships: membershiprepo.NewPostgresRepository(conn),
		Equipment:   equipmentrepo.NewPostgresRepository(conn),
		Requests:    srrepo.NewPostgresRepository(conn),
		Disputes:    disputerepo.NewPostgresRepository(conn),
		Billing:     billingrepo.NewPostgresRepository(conn),
		Credits:     creditsrepo.NewPostgresRepository(conn),
		Audit:       auditrepo.NewPostgresRepository(conn),
	}
	auditLogger := audit.NewLogger(r.Audit, nil, log.Named("audit"))

	s := &Services{Repos: r, AuditLogger: auditLogger}
	s.Credits = creditsservice.NewService(r.Credits, r.Memberships, tx, opts.Publisher, auditLogger)
	s.Billing = billingservice.NewService(r.Billing, r.Memberships, s.Credits, tx, opts.Publisher, auditLogger, log.Named("billing"))
	s.Orgs = orgservice.NewService(r.Orgs, r.Memberships, s.Credits, s.Billing, tx, auditLogger)
	s.Members = membershipservice.NewService(r.Memberships, r.Users, tx)
	s.Equipment = equipmentservice.NewService(r.Equipment, r.Memberships)
	s.Requests = srservice.NewService(r.Requests, r.Equipment, s.Billing, r.Memberships, tx, opts.Publisher, auditLogger)
	s.Disputes = disputeservice.NewService(r.Disputes, r.Requests, s.Requests, s.Billing, opts.DisputeEngine,
		r.Memberships, tx, opts.Publisher, auditLogger, log.Named("dispute"))
	s.Audit = auditservice.NewService(r.Audit, r.Memberships, auditLogger, cfg.AuditExportMaxRows)
	if opts.Tokens != nil {
		s.Auth = identityservice.NewAuthService(r.Users, r.Identities, r.Sessions, r.Memberships, r.Orgs, tx,
			security.NewHasher(cfg.BcryptCost), opts.Tokens, auditLogger)
		s.Resolver = portal.NewResolver(opts.Tokens, r.Sessions, r.Users, r.Memberships, r.Orgs)
	}
	return s
}

// Tokens builds the token provider from the configured key pair.
func Tokens(cfg *config.Config) (*security.TokenProvider, error) {
	signer, verifier, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		return nil, err
	}
	return security.NewTokenProvider(signer, verifier, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL())
}
