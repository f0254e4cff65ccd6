package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/infrallm/infrallm/pkg/store"
)

type promptSettingsRepo struct{ pool *pgxpool.Pool }

func (r promptSettingsRepo) Get(ctx context.Context, organizationID, userID string) (*store.PromptSettings, error) {
	var p store.PromptSettings
	err := r.pool.QueryRow(ctx,
		`SELECT organization_id, user_id, system_prompt, personalization_prompt, default_model
		 FROM prompt_settings WHERE organization_id = $1 AND user_id = $2`,
		organizationID, userID,
	).Scan(&p.OrganizationID, &p.UserID, &p.SystemPrompt, &p.PersonalizationPrompt, &p.DefaultModel)
	if err != nil {
		return nil, notFoundOr(err, "prompt_settings", userID)
	}
	return &p, nil
}
