package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/internal/apikey"
	"github.com/kiranshivaraju/valuecalc/internal/store"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
	"github.com/spf13/cobra"
)

func newKeysCommand(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	cmd.PersistentFlags().String("tenant", "", "Tenant id (default: the default tenant)")

	cmd.AddCommand(newKeysCreateCommand(open))
	cmd.AddCommand(newKeysListCommand(open))
	cmd.AddCommand(newKeysRevokeCommand(open))
	return cmd
}

func newKeysCreateCommand(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an API key and print it once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return errors.New("name must not be blank")
			}
			scopes, _ := cmd.Flags().GetStringSlice("scope")
			for _, s := range scopes {
				if !apikey.ValidScope(s) {
					return fmt.Errorf("unknown scope %q", s)
				}
			}

			b, err := open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer b.close()

			tenantID, err := resolveTenant(cmd, b.store)
			if err != nil {
				return err
			}

			gen, err := apikey.Generate()
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			key := &models.APIKey{
				ID:        uuid.New(),
				TenantID:  tenantID,
				Name:      name,
				KeyHash:   gen.Hash,
				KeyPrefix: gen.KeyPrefix,
				Scopes:    scopes,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := b.store.CreateAPIKey(cmd.Context(), key); err != nil {
				if errors.Is(err, store.ErrDuplicateKey) {
					return fmt.Errorf("a key named %q already exists", name)
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created key %s (%s)\n", key.ID, strings.Join(scopes, ","))
			fmt.Fprintf(out, "Key: %s\n", gen.Raw)
			fmt.Fprintln(out, "Store it now; it cannot be shown again.")
			return nil
		},
	}
	cmd.Flags().StringSlice("scope", []string{apikey.ScopeRead}, "Scopes to grant (repeatable)")
	return cmd
}

func newKeysListCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer b.close()

			tenantID, err := resolveTenant(cmd, b.store)
			if err != nil {
				return err
			}
			keys, err := b.store.ListAPIKeys(cmd.Context(), tenantID)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPREFIX\tSCOPES\tLAST USED")
			for _, k := range keys {
				lastUsed := "never"
				if k.LastUsedAt != nil {
					lastUsed = k.LastUsedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.KeyPrefix, strings.Join(k.Scopes, ","), lastUsed)
			}
			return w.Flush()
		},
	}
}

func newKeysRevokeCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid key id %q", args[0])
			}

			b, err := open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer b.close()

			tenantID, err := resolveTenant(cmd, b.store)
			if err != nil {
				return err
			}
			if err := b.store.RevokeAPIKey(cmd.Context(), id, tenantID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("key %s not found", id)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked key %s\n", id)
			return nil
		},
	}
}

type tenantStore interface {
	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)
}

func resolveTenant(cmd *cobra.Command, s tenantStore) (uuid.UUID, error) {
	raw, _ := cmd.Flags().GetString("tenant")
	if raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid tenant id %q", raw)
		}
		return id, nil
	}
	t, err := s.GetDefaultTenant(cmd.Context())
	if err != nil {
		return uuid.Nil, fmt.Errorf("default tenant: %w", err)
	}
	return t.ID, nil
}
