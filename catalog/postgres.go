package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// LoadPostgres rebuilds a catalog and its contexts from the tree_elements,
// tree_element_children, contexts and context_elements tables.
func LoadPostgres(ctx context.Context, db *sql.DB) (*Catalog, *Contexts, error) {
	cat := New()

	rows, err := db.QueryContext(ctx, `
		SELECT id, kind, namespace, name, translated_name, description, long_description, parameters
		FROM tree_elements
		ORDER BY kind DESC, namespace, name, id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list tree elements: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e                                TreeElement
			kind                             string
			ns, name, translated, desc, long sql.NullString
			params                           pq.StringArray
		)
		if err := rows.Scan(&e.ID, &kind, &ns, &name, &translated, &desc, &long, &params); err != nil {
			return nil, nil, fmt.Errorf("failed to scan tree element: %w", err)
		}
		e.Kind = Kind(kind)
		e.Namespace = ns.String
		e.Name = name.String
		e.TranslatedName = translated.String
		e.Description = desc.String
		e.LongDescription = long.String
		e.Parameters = params
		if _, err := cat.Add(e); err != nil {
			return nil, nil, fmt.Errorf("tree element %s: %w", e.ID, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating tree elements: %w", err)
	}

	if err := loadChildren(ctx, db, cat); err != nil {
		return nil, nil, err
	}

	contexts, err := loadContexts(ctx, db, cat)
	if err != nil {
		return nil, nil, err
	}
	return cat, contexts, nil
}

func loadChildren(ctx context.Context, db *sql.DB, cat *Catalog) error {
	rows, err := db.QueryContext(ctx, `
		SELECT folder_id, child_id
		FROM tree_element_children
		ORDER BY folder_id, position
	`)
	if err != nil {
		return fmt.Errorf("failed to list folder children: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var folder, child string
		if err := rows.Scan(&folder, &child); err != nil {
			return fmt.Errorf("failed to scan folder child: %w", err)
		}
		if err := cat.AddChildren(folder, child); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating folder children: %w", err)
	}
	return nil
}

func loadContexts(ctx context.Context, db *sql.DB, cat *Catalog) (*Contexts, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.id, c.name, ce.element_id
		FROM contexts c
		LEFT JOIN context_elements ce ON ce.context_id = c.id
		ORDER BY c.id, ce.element_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list contexts: %w", err)
	}
	defer rows.Close()

	contexts := make(map[string]*Context)
	for rows.Next() {
		var (
			id, name string
			element  sql.NullString
		)
		if err := rows.Scan(&id, &name, &element); err != nil {
			return nil, fmt.Errorf("failed to scan context: %w", err)
		}
		c, ok := contexts[id]
		if !ok {
			c, err = NewContext(cat, id, name)
			if err != nil {
				return nil, err
			}
			contexts[id] = c
		}
		if element.Valid {
			if err := c.Allow(element.String); err != nil {
				return nil, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contexts: %w", err)
	}
	out := NewContexts()
	for _, c := range contexts {
		out.Put(c)
	}
	return out, nil
}
