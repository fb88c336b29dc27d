package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"luvia/internal/config"
	"luvia/internal/db"
	"luvia/internal/domain"
	"luvia/internal/migrate"
	"luvia/internal/repo"
)

// Resolve opens the workspace store, runs migrations and loads the config,
// seeding the config file and demo fixtures on first use.
func Resolve(ctx context.Context, workspace string) (*sql.DB, *config.Config, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if cfg == nil {
		cfg = config.Default("LUVIA")
	}
	if cfg.Seed.Demo {
		if err := SeedDemo(ctx, repo.Repo{DB: conn}); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("seed demo data: %w", err)
		}
	}
	return conn, cfg, nil
}

func strptr(s string) *string { return &s }

// SeedDemo loads the showcase client, provider, sample job and marketplace
// catalog when the store is empty. Safe to call repeatedly.
func SeedDemo(ctx context.Context, r repo.Repo) error {
	if _, err := r.GetUser(ctx, "user-8812"); err == nil {
		return nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}

	now := "2025-05-24T00:00:00Z"
	users := []domain.User{
		{ID: "user-8812", Name: "Sarah Premium", Role: domain.RoleClient, Tier: domain.TierSapling, Points: 12450, Location: "GRA Phase 2, PH", CreatedAt: now},
		{ID: "pro-1", Name: "John T.", Role: domain.RoleCleaner, Tier: domain.TierSeedling, Location: "Port Harcourt", CreatedAt: now},
		{ID: "admin-1", Name: "Ops Admin", Role: domain.RoleAdmin, Tier: domain.TierSeedling, CreatedAt: now},
	}
	for _, u := range users {
		if err := r.InsertUser(ctx, u); err != nil {
			return err
		}
	}

	products := []domain.Product{
		{ID: "p1", Name: "LUVIA Signature Fragrance", Category: "Specialty", Price: 4500, Eco: true},
		{ID: "p2", Name: "Eco-Green Descaler", Category: "Specialty", Price: 3200, Eco: true},
		{ID: "p3", Name: "Multi-Surface Bio-Clean", Category: "Liquids", Price: 5000, Eco: true},
		{ID: "p4", Name: "Reclamation Hero Kit", Category: "Tools", Price: 18500, Eco: false},
	}
	for _, p := range products {
		if err := r.InsertProduct(ctx, p); err != nil {
			return err
		}
	}

	job := domain.Job{
		ID:             "LUV-8842",
		ServiceName:    "Scientific Janitorial",
		Type:           domain.ServiceCleaning,
		ClientID:       "user-8812",
		ClientName:     "Sarah P.",
		ProviderID:     strptr("pro-1"),
		ProviderName:   strptr("John T."),
		Location:       "GRA Phase 2, Port Harcourt",
		Status:         domain.StatusCompleted,
		TotalAmount:    45000,
		ReleasedAmount: 31500,
		EscrowAmount:   13500,
		Tier:           domain.TierSapling,
		Date:           now,
		CreatedAt:      now,
		UpdatedAt:      now,
		SOPList: []domain.SOPItem{
			{ID: "s1", Task: "ATP Baseline Test", Category: domain.CategoryScientific, IsCompleted: true, IsMandatory: true, Value: strptr("1240"), Unit: strptr("RLU"), Description: strptr("Initial microbial load detection.")},
			{ID: "s2", Task: "HEPA Air Scrubbing", Category: domain.CategoryTask, IsCompleted: true, IsMandatory: true, EvidenceURL: strptr("https://images.unsplash.com/photo-1584622650111-993a426fbf0a"), Description: strptr("Particulate extraction from ceiling voids.")},
			{ID: "s3", Task: "Eco-Agent Application", Category: domain.CategoryChemical, IsCompleted: true, IsMandatory: true, EvidenceURL: strptr("https://images.unsplash.com/photo-1528740561666-dc2479dc08ab"), Description: strptr("Non-toxic descaler dwell time: 5mins.")},
			{ID: "s4", Task: "Macro Evidence: Faucets", Category: domain.CategoryEvidence, IsCompleted: true, IsMandatory: true, EvidenceURL: strptr("https://images.unsplash.com/photo-1581578731548-c64695cc6958"), Description: strptr("Photo proof of mineral removal.")},
			{ID: "s5", Task: "ATP Post-Clean Reading", Category: domain.CategoryScientific, IsCompleted: true, IsMandatory: true, Value: strptr("14"), Unit: strptr("RLU"), Description: strptr("Final clinical validation.")},
		},
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.InsertJob(ctx, tx, job); err != nil {
		return err
	}
	return tx.Commit()
}
