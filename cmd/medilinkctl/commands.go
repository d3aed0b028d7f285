package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	auditservice "medilink/internal/audit/service"
	creditsdomain "medilink/internal/credits/domain"
	orgdomain "medilink/internal/organization/domain"
	"medilink/internal/platform/authctx"
)

func operatorContext(ctx context.Context) context.Context {
	return authctx.WithIdentity(ctx, authctx.Identity{UserID: operatorUserID, PlatformAdmin: true})
}

func newAuditCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Audit log operations"}

	var org, filter, format, out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Export audit logs as CSV or JSON lines",
		Example: `  medilinkctl audit export --org 7c1e... --format jsonl --out audit.jsonl
  medilinkctl audit export --filter 'action = "resolve" AND created_at >= timestamp("2025-01-01T00:00:00Z")'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			sink, err := auditservice.NewRowWriter(format, w)
			if err != nil {
				return err
			}
			return withBackend(cmd, open, func(ctx context.Context, b *backend) error {
				res, err := b.audit.Export(operatorContext(ctx), sink, scopedFilter(org, filter))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "exported %d rows (truncated=%t)\n", res.Rows, res.Truncated)
				return nil
			})
		},
	}
	export.Flags().StringVar(&org, "org", "", "only export this organization")
	export.Flags().StringVar(&filter, "filter", "", "filter expression over org_id, user_id, action, resource, resource_id, ip, created_at")
	export.Flags().StringVar(&format, "format", auditservice.FormatCSV, "csv or jsonl")
	export.Flags().StringVar(&out, "out", "-", "output file, - for stdout")
	cmd.AddCommand(export)
	return cmd
}

// scopedFilter narrows filter to org.
func scopedFilter(org, filter string) string {
	org = strings.TrimSpace(org)
	filter = strings.TrimSpace(filter)
	if org == "" {
		return filter
	}
	scope := fmt.Sprintf("org_id = %q", org)
	if filter == "" {
		return scope
	}
	return scope + " AND (" + filter + ")"
}

func newCreditsCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{Use: "credits", Short: "AI credit operations"}

	var org, reason, reference string
	var amount int64
	grant := &cobra.Command{
		Use:   "grant",
		Short: "Grant credits to an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			if amount <= 0 {
				return fmt.Errorf("--amount must be positive")
			}
			if reference == "" {
				reference = "cli:" + uuid.New().String()
			}
			return withBackend(cmd, open, func(ctx context.Context, b *backend) error {
				t, err := b.credits.Grant(operatorContext(ctx), org, amount, creditsdomain.Reason(reason), reference)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "granted %d credits to %s, balance %d (transaction %s)\n",
					t.Delta, t.OrgID, t.BalanceAfter, t.ID)
				return nil
			})
		},
	}
	grant.Flags().StringVar(&org, "org", "", "organization id")
	grant.Flags().Int64Var(&amount, "amount", 0, "credits to add")
	grant.Flags().StringVar(&reason, "reason", string(creditsdomain.ReasonGrant), "grant or adjust")
	grant.Flags().StringVar(&reference, "reference", "", "idempotency reference; rerunning with the same one grants once")
	_ = grant.MarkFlagRequired("org")
	_ = grant.MarkFlagRequired("amount")
	cmd.AddCommand(grant)
	return cmd
}

func newOrgCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{Use: "org", Short: "Organization operations"}

	var name, orgType, ownerEmail, contactEmail string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an organization owned by an existing user",
		RunE: func(cmd *cobra.Command, args []string) error {
			t := orgdomain.OrgType(strings.ToLower(strings.TrimSpace(orgType)))
			if t != orgdomain.OrgTypeHospital && t != orgdomain.OrgTypeProvider {
				return fmt.Errorf("--type must be hospital or provider")
			}
			return withBackend(cmd, open, func(ctx context.Context, b *backend) error {
				owner, err := b.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(ownerEmail)))
				if err != nil {
					return err
				}
				if owner == nil {
					return fmt.Errorf("no user with email %s", ownerEmail)
				}
				if contactEmail == "" {
					contactEmail = owner.Email
				}
				o, err := b.orgs.CreateForOwner(ctx, owner.ID, name, t, contactEmail)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s %q (%s)\n", o.Type, o.Name, o.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "organization name")
	create.Flags().StringVar(&orgType, "type", "", "hospital or provider")
	create.Flags().StringVar(&ownerEmail, "owner-email", "", "email of the owning user")
	create.Flags().StringVar(&contactEmail, "contact-email", "", "contact email, defaults to the owner's")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("type")
	_ = create.MarkFlagRequired("owner-email")
	cmd.AddCommand(create)
	return cmd
}

func newBillingCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{Use: "billing", Short: "Billing operations"}
	cmd.AddCommand(&cobra.Command{
		Use:   "renew",
		Short: "Run subscription renewals once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b *backend) error {
				n, err := b.billing.RenewDue(ctx, time.Now().UTC())
				fmt.Fprintf(cmd.OutOrStdout(), "renewed %d subscriptions\n", n)
				return err
			})
		},
	})
	return cmd
}
