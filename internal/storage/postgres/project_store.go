package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rankmon/rankmon/internal/tracker"
)

// ProjectStore loads project aggregates for a run.
type ProjectStore struct {
	pool Pool
}

// NewProjectStoreWithPool constructs a store from an existing pool.
func NewProjectStoreWithPool(pool Pool) (*ProjectStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProjectStore{pool: pool}, nil
}

// ListEligibleProjects returns every project with a provider linkage id,
// eagerly loaded with its groups and their keywords. Three queries total,
// assembled in memory, so no lazy fetches happen mid-run.
func (s *ProjectStore) ListEligibleProjects(ctx context.Context) ([]tracker.Project, error) {
	projects, order, err := s.loadProjects(ctx)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return []tracker.Project{}, nil
	}
	groups, groupOrder, groupOwner, err := s.loadGroups(ctx, order)
	if err != nil {
		return nil, err
	}
	if err := s.loadKeywords(ctx, groups); err != nil {
		return nil, err
	}
	for _, groupID := range groupOrder {
		projectID := groupOwner[groupID]
		p := projects[projectID]
		p.Groups = append(p.Groups, *groups[groupID])
		projects[projectID] = p
	}

	out := make([]tracker.Project, 0, len(order))
	for _, id := range order {
		out = append(out, projects[id])
	}
	return out, nil
}

func (s *ProjectStore) loadProjects(ctx context.Context) (map[uuid.UUID]tracker.Project, []uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, domain, topvisor_id
FROM projects
WHERE topvisor_id IS NOT NULL
ORDER BY domain`)
	if err != nil {
		return nil, nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	projects := make(map[uuid.UUID]tracker.Project)
	var order []uuid.UUID
	for rows.Next() {
		var p tracker.Project
		if err := rows.Scan(&p.ID, &p.Domain, &p.TopvisorID); err != nil {
			return nil, nil, fmt.Errorf("scan project: %w", err)
		}
		projects[p.ID] = p
		order = append(order, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, order, nil
}

func (s *ProjectStore) loadGroups(
	ctx context.Context,
	projectIDs []uuid.UUID,
) (map[uuid.UUID]*tracker.Group, []uuid.UUID, map[uuid.UUID]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, project_id, title, region, topvisor_id, is_archived
FROM groups
WHERE project_id = ANY($1)
ORDER BY title`, projectIDs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	groups := make(map[uuid.UUID]*tracker.Group)
	var order []uuid.UUID
	owner := make(map[uuid.UUID]uuid.UUID)
	for rows.Next() {
		var (
			g         tracker.Group
			projectID uuid.UUID
		)
		if err := rows.Scan(&g.ID, &projectID, &g.Title, &g.Region, &g.TopvisorID, &g.IsArchived); err != nil {
			return nil, nil, nil, fmt.Errorf("scan group: %w", err)
		}
		groups[g.ID] = &g
		order = append(order, g.ID)
		owner[g.ID] = projectID
	}
	if err := rows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate groups: %w", err)
	}
	return groups, order, owner, nil
}

func (s *ProjectStore) loadKeywords(ctx context.Context, groups map[uuid.UUID]*tracker.Group) error {
	if len(groups) == 0 {
		return nil
	}
	groupIDs := make([]uuid.UUID, 0, len(groups))
	for id := range groups {
		groupIDs = append(groupIDs, id)
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, group_id, text, price_top_1_3, price_top_4_5, price_top_6_10, is_check
FROM keywords
WHERE group_id = ANY($1)
ORDER BY text`, groupIDs)
	if err != nil {
		return fmt.Errorf("query keywords: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kw      tracker.Keyword
			groupID uuid.UUID
		)
		if err := rows.Scan(&kw.ID, &groupID, &kw.Text,
			&kw.PriceTop1_3, &kw.PriceTop4_5, &kw.PriceTop6_10, &kw.IsCheck); err != nil {
			return fmt.Errorf("scan keyword: %w", err)
		}
		if g, ok := groups[groupID]; ok {
			g.Keywords = append(g.Keywords, kw)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate keywords: %w", err)
	}
	return nil
}
