package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/calebford/roster/internal/config"
	"github.com/calebford/roster/internal/crypto"
	"github.com/calebford/roster/internal/customer"
	"github.com/calebford/roster/internal/team"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a demo team with members and invites",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	cipher, err := crypto.NewCipher(cfg.Auth.TokenKey)
	if err != nil {
		return err
	}

	customerStore := customer.NewStore(pool, cipher, cfg.Auth.SessionTTL, cfg.Auth.OTPTTL)
	teamStore := team.NewStore(pool)
	teamService := team.NewService(teamStore, nil)

	// Check if seed has already run.
	if _, err := teamStore.GetTeamBySlug(ctx, "acme"); err == nil {
		slog.Info("demo data already exists, skipping seed")
		return nil
	}

	owner, err := customerStore.GetOrCreateByEmail(ctx, "owner@example.com")
	if err != nil {
		return fmt.Errorf("creating owner: %w", err)
	}
	admin, err := customerStore.GetOrCreateByEmail(ctx, "admin@example.com")
	if err != nil {
		return fmt.Errorf("creating admin: %w", err)
	}

	t, err := teamService.CreateTeam(ctx, owner.ID, team.CreateTeamInput{
		Name: "Acme",
		Slug: "acme",
	})
	if err != nil {
		return fmt.Errorf("creating demo team: %w", err)
	}
	slog.Info("created demo team", "id", t.ID, "slug", t.Slug)

	if _, err := teamService.AddMember(ctx, t.ID, admin.ID, team.RoleAdmin); err != nil {
		return fmt.Errorf("adding admin: %w", err)
	}

	shareCode, err := teamService.RefreshShareableInvite(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("issuing shareable code: %w", err)
	}

	inv, err := teamService.InviteByEmail(ctx, t.ID, "sam@example.com", team.RoleMember)
	if err != nil {
		return fmt.Errorf("creating email invite: %w", err)
	}

	fmt.Printf("\n=== Demo Data Seeded ===\n")
	fmt.Printf("Team:           %s (%s)\n", t.Name, t.Slug)
	fmt.Printf("Owner:          %s\n", owner.Email)
	fmt.Printf("Admin:          %s\n", admin.Email)
	fmt.Printf("Shareable code: %s\n", shareCode)
	fmt.Printf("Email invite:   %s -> %s\n", inv.Email, inv.Code)
	fmt.Printf("\nTry it:\n")
	fmt.Printf("  curl -X POST localhost:8080/api/v1/auth/code -d '{\"email\":\"owner@example.com\"}'\n")
	fmt.Printf("  # the code appears in the server log, then:\n")
	fmt.Printf("  curl -X POST localhost:8080/api/v1/auth/verify -d '{\"email\":\"owner@example.com\",\"code\":\"<code>\"}'\n")

	return nil
}
