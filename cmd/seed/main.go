// seed inserts development fixtures from fixtures.yaml. It is idempotent: when the first fixture
// user already exists nothing is written.
package main

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"medilink/internal/app"
	"medilink/internal/config"
	creditsdomain "medilink/internal/credits/domain"
	"medilink/internal/db"
	equipmentdomain "medilink/internal/equipment/domain"
	identitydomain "medilink/internal/identity/domain"
	membershipdomain "medilink/internal/membership/domain"
	orgdomain "medilink/internal/organization/domain"
	"medilink/internal/security"
	userdomain "medilink/internal/user/domain"
)

//go:embed fixtures.yaml
var fixturesYAML []byte

type fixtures struct {
	Password      string       `yaml:"password"`
	Users         []userFix    `yaml:"users"`
	Organizations []orgFixture `yaml:"organizations"`
}

type userFix struct {
	Email         string `yaml:"email"`
	Name          string `yaml:"name"`
	PlatformAdmin bool   `yaml:"platform_admin"`
}

type orgFixture struct {
	Name         string         `yaml:"name"`
	Type         string         `yaml:"type"`
	Owner        string         `yaml:"owner"`
	ContactEmail string         `yaml:"contact_email"`
	Credits      int64          `yaml:"credits"`
	Members      []memberFix    `yaml:"members"`
	Equipment    []equipmentFix `yaml:"equipment"`
}

type memberFix struct {
	Email string `yaml:"email"`
	Role  string `yaml:"role"`
}

type equipmentFix struct {
	Name         string `yaml:"name"`
	Category     string `yaml:"category"`
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
	SerialNumber string `yaml:"serial_number"`
	Location     string `yaml:"location"`
	Status       string `yaml:"status"`
}

// parseFixtures decodes and cross-checks the fixture file.
func parseFixtures(b []byte) (*fixtures, error) {
	var f fixtures
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	if f.Password == "" || len(f.Users) == 0 {
		return nil, fmt.Errorf("fixtures need a password and at least one user")
	}
	known := make(map[string]bool, len(f.Users))
	for _, u := range f.Users {
		known[u.Email] = true
	}
	for _, o := range f.Organizations {
		if t := orgdomain.OrgType(o.Type); t != orgdomain.OrgTypeHospital && t != orgdomain.OrgTypeProvider {
			return nil, fmt.Errorf("organization %q: unknown type %q", o.Name, o.Type)
		}
		if !known[o.Owner] {
			return nil, fmt.Errorf("organization %q: owner %q is not a fixture user", o.Name, o.Owner)
		}
		for _, m := range o.Members {
			if !known[m.Email] {
				return nil, fmt.Errorf("organization %q: member %q is not a fixture user", o.Name, m.Email)
			}
			if !membershipdomain.Role(m.Role).Valid() {
				return nil, fmt.Errorf("organization %q: member %q has unknown role %q", o.Name, m.Email, m.Role)
			}
		}
		if len(o.Equipment) > 0 && o.Type != string(orgdomain.OrgTypeHospital) {
			return nil, fmt.Errorf("organization %q: only hospitals own equipment", o.Name)
		}
	}
	return &f, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "seed:", err)
		os.Exit(1)
	}
}

func run() error {
	f, err := parseFixtures(fixturesYAML)
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx := context.Background()
	svc := app.Build(conn, app.Options{Config: cfg})
	repos := svc.Repos

	existing, err := repos.Users.GetByEmail(ctx, f.Users[0].Email)
	if err != nil {
		return err
	}
	if existing != nil {
		fmt.Printf("Seed already applied (%s exists). Skipping.\n", f.Users[0].Email)
		return nil
	}

	hash, err := security.NewHasher(cfg.BcryptCost).Hash(f.Password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	ids := make(map[string]string, len(f.Users))
	for _, u := range f.Users {
		user := &userdomain.User{
			ID:           uuid.New().String(),
			Email:        u.Email,
			Name:         u.Name,
			PlatformRole: userdomain.PlatformRoleNone,
			Status:       userdomain.UserStatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if u.PlatformAdmin {
			user.PlatformRole = userdomain.PlatformRoleAdmin
		}
		if err := repos.Users.Create(ctx, user); err != nil {
			return fmt.Errorf("create user %s: %w", u.Email, err)
		}
		if err := repos.Identities.Create(ctx, &identitydomain.Identity{
			ID:           uuid.New().String(),
			UserID:       user.ID,
			Provider:     identitydomain.IdentityProviderLocal,
			ProviderID:   u.Email,
			PasswordHash: hash,
			CreatedAt:    now,
		}); err != nil {
			return fmt.Errorf("create identity %s: %w", u.Email, err)
		}
		ids[u.Email] = user.ID
	}

	for _, o := range f.Organizations {
		org, err := svc.Orgs.CreateForOwner(ctx, ids[o.Owner], o.Name, orgdomain.OrgType(o.Type), o.ContactEmail)
		if err != nil {
			return fmt.Errorf("create org %s: %w", o.Name, err)
		}
		for _, m := range o.Members {
			if err := repos.Memberships.CreateMembership(ctx, &membershipdomain.Membership{
				ID:        uuid.New().String(),
				UserID:    ids[m.Email],
				OrgID:     org.ID,
				Role:      membershipdomain.Role(m.Role),
				CreatedAt: now,
			}); err != nil {
				return fmt.Errorf("add %s to %s: %w", m.Email, o.Name, err)
			}
		}
		for _, e := range o.Equipment {
			status := equipmentdomain.Status(e.Status)
			if status == "" {
				status = equipmentdomain.StatusOperational
			}
			if err := repos.Equipment.Create(ctx, &equipmentdomain.Equipment{
				ID:           uuid.New().String(),
				OrgID:        org.ID,
				Name:         e.Name,
				Category:     e.Category,
				Manufacturer: e.Manufacturer,
				Model:        e.Model,
				SerialNumber: e.SerialNumber,
				Location:     e.Location,
				Status:       status,
				CreatedAt:    now,
				UpdatedAt:    now,
			}); err != nil {
				return fmt.Errorf("create equipment %s: %w", e.Name, err)
			}
		}
		if o.Credits > 0 {
			if _, err := svc.Credits.Grant(ctx, org.ID, o.Credits, creditsdomain.ReasonGrant, "seed:"+org.ID); err != nil {
				return fmt.Errorf("grant credits to %s: %w", o.Name, err)
			}
		}
		fmt.Printf("Created %s %q (%s)\n", o.Type, o.Name, org.ID)
	}

	fmt.Println("Seed completed successfully.")
	for _, u := range f.Users {
		fmt.Printf("  login: %s / %s\n", u.Email, f.Password)
	}
	return nil
}
