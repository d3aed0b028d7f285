// medilinkctl is the operator CLI: audit exports, credit grants, org creation and renewal runs
// against the configured database.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"medilink/internal/app"
	auditservice "medilink/internal/audit/service"
	"medilink/internal/config"
	creditsdomain "medilink/internal/credits/domain"
	"medilink/internal/db"
	orgdomain "medilink/internal/organization/domain"
	userdomain "medilink/internal/user/domain"
)

// operatorUserID is recorded as the acting user of CLI operations that need one.
const operatorUserID = "medilinkctl"

type auditExporter interface {
	Export(ctx context.Context, sink auditservice.RowWriter, filter string) (auditservice.ExportResult, error)
}

type creditGranter interface {
	Grant(ctx context.Context, orgID string, amount int64, reason creditsdomain.Reason, reference string) (*creditsdomain.Transaction, error)
}

type orgCreator interface {
	CreateForOwner(ctx context.Context, ownerUserID, name string, orgType orgdomain.OrgType, contactEmail string) (*orgdomain.Org, error)
}

type userFinder interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
}

type renewer interface {
	RenewDue(ctx context.Context, now time.Time) (int, error)
}

// backend is what the commands operate on.
type backend struct {
	audit   auditExporter
	credits creditGranter
	orgs    orgCreator
	users   userFinder
	billing renewer
	close   func() error
}

type opener func(ctx context.Context) (*backend, error)

func openDatabase(ctx context.Context) (*backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	svc := app.Build(conn, app.Options{Config: cfg})
	return &backend{
		audit:   svc.Audit,
		credits: svc.Credits,
		orgs:    svc.Orgs,
		users:   svc.Repos.Users,
		billing: svc.Billing,
		close:   conn.Close,
	}, nil
}

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "medilinkctl",
		Short:         "Operate a MediLink deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newAuditCmd(open), newCreditsCmd(open), newOrgCmd(open), newBillingCmd(open))
	return root
}

// withBackend opens the backend for one command run and closes it afterwards.
func withBackend(cmd *cobra.Command, open opener, fn func(ctx context.Context, b *backend) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if b.close != nil {
			_ = b.close()
		}
	}()
	return fn(ctx, b)
}

func main() {
	if err := newRootCmd(openDatabase).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "medilinkctl:", err)
		os.Exit(1)
	}
}
