package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"storyreel/internal/domain"
	"storyreel/internal/infra"
	"storyreel/internal/prompt"
	"storyreel/internal/sqlinline"
)

// StyleRepositoryPG loads story style and world bible for prompt building.
type StyleRepositoryPG struct {
	db infra.SQLExecutor
}

func NewStyleRepository(db infra.SQLExecutor) *StyleRepositoryPG {
	return &StyleRepositoryPG{db: db}
}

func (r *StyleRepositoryPG) LoadStyle(ctx context.Context, storyID int64) (prompt.Style, error) {
	var (
		style                                prompt.Style
		hasBible                             bool
		bible                                prompt.WorldBible
		storyScript, chars, locs, props, wbs []byte
	)
	err := r.db.QueryRow(ctx, sqlinline.QSelectStoryStyle, storyID).Scan(
		&style.VisualStyle, &storyScript, &hasBible,
		&bible.CameraPrefix, &bible.GlobalStyle, &bible.DesignLanguage,
		&chars, &locs, &props, &wbs,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return prompt.Style{}, fmt.Errorf("story %d: %w", storyID, domain.ErrNotFound)
		}
		return prompt.Style{}, fmt.Errorf("repo: load style: %w", err)
	}
	for _, field := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"color_script", storyScript, &style.ColorScript},
		{"characters", chars, &bible.Characters},
		{"locations", locs, &bible.Locations},
		{"props", props, &bible.Props},
		{"world_bible.color_script", wbs, &bible.ColorScript},
	} {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dst); err != nil {
			return prompt.Style{}, fmt.Errorf("repo: decode %s: %w", field.name, err)
		}
	}
	if hasBible {
		style.Bible = &bible
	}
	return style, nil
}
