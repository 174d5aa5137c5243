package relational

import "github.com/fishysoftware/semantic-pipeline/internal/domain"

// transformListSQL is the closed allow-list of precompiled static SQL
// variants selected by (sort_field, sort_direction) for the transforms
// listing. Every combination is a distinct literal string so Postgres's
// plan cache sees a stable, small set of statements rather than one
// dynamically-built ORDER BY per call.
var transformListSQL = map[[2]string]string{
	{"created_at", "asc"}: `SELECT id, title, owner_id, owner_name, kind, source_resource_id,
		target_resource_id, embedder_ids, config, collection_mappings, enabled,
		created_at, updated_at, COUNT(*) OVER() AS total
		FROM transforms WHERE owner_id = $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
	{"created_at", "desc"}: `SELECT id, title, owner_id, owner_name, kind, source_resource_id,
		target_resource_id, embedder_ids, config, collection_mappings, enabled,
		created_at, updated_at, COUNT(*) OVER() AS total
		FROM transforms WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
	{"updated_at", "asc"}: `SELECT id, title, owner_id, owner_name, kind, source_resource_id,
		target_resource_id, embedder_ids, config, collection_mappings, enabled,
		created_at, updated_at, COUNT(*) OVER() AS total
		FROM transforms WHERE owner_id = $1 ORDER BY updated_at ASC LIMIT $2 OFFSET $3`,
	{"updated_at", "desc"}: `SELECT id, title, owner_id, owner_name, kind, source_resource_id,
		target_resource_id, embedder_ids, config, collection_mappings, enabled,
		created_at, updated_at, COUNT(*) OVER() AS total
		FROM transforms WHERE owner_id = $1 ORDER BY updated_at DESC LIMIT $2 OFFSET $3`,
	{"title", "asc"}: `SELECT id, title, owner_id, owner_name, kind, source_resource_id,
		target_resource_id, embedder_ids, config, collection_mappings, enabled,
		created_at, updated_at, COUNT(*) OVER() AS total
		FROM transforms WHERE owner_id = $1 ORDER BY title ASC LIMIT $2 OFFSET $3`,
	{"title", "desc"}: `SELECT id, title, owner_id, owner_name, kind, source_resource_id,
		target_resource_id, embedder_ids, config, collection_mappings, enabled,
		created_at, updated_at, COUNT(*) OVER() AS total
		FROM transforms WHERE owner_id = $1 ORDER BY title DESC LIMIT $2 OFFSET $3`,
}

// resolveListSQL validates (field, direction) against the allow-list and
// returns the precompiled statement, defaulting to updated_at/desc.
func resolveListSQL(table map[[2]string]string, field, direction string) (string, error) {
	if field == "" {
		field = "updated_at"
	}
	if direction == "" {
		direction = "desc"
	}
	sql, ok := table[[2]string{field, direction}]
	if !ok {
		return "", domain.NewValidationError("sort_field", field+":"+direction, domain.ErrUnsupportedSortField)
	}
	return sql, nil
}
