package database

import (
	"context"
	"fmt"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/google/osv-scanner/pkg/models"
	"github.com/ortelius/pdvd-rollup/model"
)

// Store implements the lookup and persistence interfaces of the rollup,
// collector, resolver, BOM coordinator and analysis pass on top of ArangoDB.
type Store struct {
	db arangodb.Database
}

// NewStore wraps an initialized connection.
func NewStore(conn DBConnection) *Store {
	return &Store{db: conn.Database}
}

// GetRelease loads a release by key, returning nil when absent.
func (s *Store) GetRelease(ctx context.Context, key string) (*model.Release, error) {
	return queryOne[model.Release](ctx, s.db,
		`FOR r IN release FILTER r._key == @key LIMIT 1 RETURN r`,
		map[string]interface{}{"key": key})
}

// GetReleaseInOrg loads a release only if it belongs to org.
func (s *Store) GetReleaseInOrg(ctx context.Context, key, org string) (*model.Release, error) {
	return queryOne[model.Release](ctx, s.db,
		`FOR r IN release FILTER r._key == @key AND r.org == @org LIMIT 1 RETURN r`,
		map[string]interface{}{"key": key, "org": org})
}

// saveReleaseQuery touches only the fields the rollup owns, so release
// attributes written by other services survive a save.
const saveReleaseQuery = `
	FOR r IN release
		FILTER r._key == @key AND r.revision == @revision
		UPDATE r WITH { metrics: @metrics, revision: @next, updated_at: @now } IN release
		OPTIONS { mergeObjects: false }
		RETURN NEW
`

func saveReleaseBindVars(rel *model.Release, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"key":      rel.Key,
		"revision": rel.Revision,
		"next":     rel.Revision + 1,
		"metrics":  rel.Metrics,
		"now":      now,
	}
}

// SaveRelease writes the release metrics if the stored revision still equals
// rel.Revision, bumping the revision. A lost race returns model.ErrRevisionConflict.
func (s *Store) SaveRelease(ctx context.Context, rel *model.Release) (*model.Release, error) {
	if err := rel.Validate(); err != nil {
		return nil, err
	}

	saved, err := queryOne[model.Release](ctx, s.db, saveReleaseQuery, saveReleaseBindVars(rel, time.Now().UTC()))
	if err != nil {
		return nil, fmt.Errorf("failed to save release %s: %w", rel.Key, err)
	}
	if saved == nil {
		return nil, model.ErrRevisionConflict
	}
	return saved, nil
}

// FindReleasesByArtifact returns the keys of releases that reference the
// artifact directly, through a variant deliverable, or through their source
// code entry.
func (s *Store) FindReleasesByArtifact(ctx context.Context, artifactKey string) ([]string, error) {
	query := `
		LET direct = (FOR r IN release FILTER @artifact IN r.artifacts RETURN r._key)
		LET viaDeliverables = (
			FOR d IN deliverable FILTER @artifact IN d.artifacts
				FOR v IN variant FILTER d._key IN v.outbound_deliverables
					RETURN v.release
		)
		LET viaSce = (
			FOR e IN source_code_entry FILTER @artifact IN e.artifacts[*].artifact
				FOR r IN release FILTER r.source_code_entry == e._key
					RETURN r._key
		)
		FOR k IN UNION_DISTINCT(direct, viaDeliverables, viaSce)
			SORT k
			RETURN k
	`
	return queryAll[string](ctx, s.db, query, map[string]interface{}{"artifact": artifactKey})
}

// ListReleaseKeysByOrg returns every release key of an org.
func (s *Store) ListReleaseKeysByOrg(ctx context.Context, org string) ([]string, error) {
	return queryAll[string](ctx, s.db,
		`FOR r IN release FILTER r.org == @org SORT r._key RETURN r._key`,
		map[string]interface{}{"org": org})
}

// ListStaleReleaseKeys returns releases of an org never scanned or last
// scanned before the cutoff.
func (s *Store) ListStaleReleaseKeys(ctx context.Context, org string, before time.Time) ([]string, error) {
	query := `
		FOR r IN release
			FILTER r.org == @org
			FILTER r.metrics == null OR r.metrics.last_scanned == null OR DATE_TIMESTAMP(r.metrics.last_scanned) < @before
			SORT r._key
			RETURN r._key
	`
	return queryAll[string](ctx, s.db, query, map[string]interface{}{
		"org":    org,
		"before": before.UnixMilli(),
	})
}

// ListOrgs returns all orgs that are not archived.
func (s *Store) ListOrgs(ctx context.Context) ([]model.Org, error) {
	return queryAll[model.Org](ctx, s.db,
		`FOR o IN org FILTER o.status != "ARCHIVED" SORT o.name RETURN o`, nil)
}

// GetArtifact loads an artifact by key, returning nil when absent.
func (s *Store) GetArtifact(ctx context.Context, key string) (*model.Artifact, error) {
	return queryOne[model.Artifact](ctx, s.db,
		`FOR a IN artifact FILTER a._key == @key LIMIT 1 RETURN a`,
		map[string]interface{}{"key": key})
}

// FindArtifactByDigest returns an artifact of the org that carries digest.
func (s *Store) FindArtifactByDigest(ctx context.Context, org, digest string) (*model.Artifact, error) {
	query := `
		FOR a IN artifact
			FILTER a.org == @org AND @digest IN a.digests
			SORT a.created_at
			LIMIT 1
			RETURN a
	`
	return queryOne[model.Artifact](ctx, s.db, query, map[string]interface{}{"org": org, "digest": digest})
}

// AttachBom records the stored BOM on an artifact and indexes its digest for
// later dedup lookups.
func (s *Store) AttachBom(ctx context.Context, artifactKey, digest string, format model.BomFormat, internal model.InternalBom) error {
	query := `
		FOR a IN artifact
			FILTER a._key == @key
			UPDATE a WITH {
				digests: UNIQUE(APPEND(a.digests || [], [@digest])),
				bom_format: @format,
				internal_bom: @internal,
				updated_at: @now
			} IN artifact
	`
	return exec(ctx, s.db, query, map[string]interface{}{
		"key":      artifactKey,
		"digest":   digest,
		"format":   format,
		"internal": internal,
		"now":      time.Now().UTC(),
	})
}

// CopyArtifactMetrics copies the findings of a deduplicated source artifact
// onto the target artifact.
func (s *Store) CopyArtifactMetrics(ctx context.Context, targetKey, sourceKey string) error {
	query := `
		LET src = DOCUMENT("artifact", @source)
		FILTER src != null
		FOR a IN artifact
			FILTER a._key == @target
			UPDATE a WITH { metrics: src.metrics, updated_at: @now } IN artifact OPTIONS { mergeObjects: false }
	`
	return exec(ctx, s.db, query, map[string]interface{}{
		"target": targetKey,
		"source": sourceKey,
		"now":    time.Now().UTC(),
	})
}

// bomSerialPattern matches the urn:uuid serials the BOM coordinator accepts.
const bomSerialPattern = `^urn:uuid:[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`

// SaveBomRecord stores a normalized BOM, keyed by org and digest. An existing
// record for the same digest keeps its key and its serial, unless the stored
// serial is not a urn:uuid, in which case it takes rec's.
func (s *Store) SaveBomRecord(ctx context.Context, rec model.BomRecord) (*model.BomRecord, error) {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	query := `
		UPSERT { org: @org, digest: @digest }
		INSERT @doc
		UPDATE {
			updated_at: @now,
			serial: REGEX_TEST(OLD.serial, @serialPattern, true) ? OLD.serial : @serial
		}
		IN bom
		RETURN NEW
	`
	saved, err := queryOne[model.BomRecord](ctx, s.db, query, map[string]interface{}{
		"org":           rec.Org,
		"digest":        rec.Digest,
		"doc":           rec,
		"now":           now,
		"serial":        rec.Serial,
		"serialPattern": bomSerialPattern,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save bom %s: %w", rec.Digest, err)
	}
	if saved == nil {
		return nil, fmt.Errorf("failed to save bom %s: no document returned", rec.Digest)
	}
	return saved, nil
}

// GetSourceCodeEntry loads a source code entry by key, returning nil when absent.
func (s *Store) GetSourceCodeEntry(ctx context.Context, key string) (*model.SourceCodeEntry, error) {
	return queryOne[model.SourceCodeEntry](ctx, s.db,
		`FOR e IN source_code_entry FILTER e._key == @key LIMIT 1 RETURN e`,
		map[string]interface{}{"key": key})
}

// ListVariantsOfRelease returns the variants of a release.
func (s *Store) ListVariantsOfRelease(ctx context.Context, releaseKey string) ([]model.Variant, error) {
	return queryAll[model.Variant](ctx, s.db,
		`FOR v IN variant FILTER v.release == @release SORT v._key RETURN v`,
		map[string]interface{}{"release": releaseKey})
}

// GetDeliverable loads a deliverable by key, returning nil when absent.
func (s *Store) GetDeliverable(ctx context.Context, key string) (*model.Deliverable, error) {
	return queryOne[model.Deliverable](ctx, s.db,
		`FOR d IN deliverable FILTER d._key == @key LIMIT 1 RETURN d`,
		map[string]interface{}{"key": key})
}

// ListComponentsByOrg returns every component of an org.
func (s *Store) ListComponentsByOrg(ctx context.Context, org string) ([]model.Component, error) {
	return queryAll[model.Component](ctx, s.db,
		`FOR c IN component FILTER c.org == @org SORT c.name RETURN c`,
		map[string]interface{}{"org": org})
}

// GetBranch loads a branch by key, returning nil when absent.
func (s *Store) GetBranch(ctx context.Context, key string) (*model.Branch, error) {
	return queryOne[model.Branch](ctx, s.db,
		`FOR b IN branch FILTER b._key == @key LIMIT 1 RETURN b`,
		map[string]interface{}{"key": key})
}

// FindBranchByComponentAndName looks up a component's branch by name.
func (s *Store) FindBranchByComponentAndName(ctx context.Context, component, name string) (*model.Branch, error) {
	return queryOne[model.Branch](ctx, s.db,
		`FOR b IN branch FILTER b.component == @component AND b.name == @name LIMIT 1 RETURN b`,
		map[string]interface{}{"component": component, "name": name})
}

// GetBaseBranchOfComponent returns the BASE branch of a component.
func (s *Store) GetBaseBranchOfComponent(ctx context.Context, component string) (*model.Branch, error) {
	return queryOne[model.Branch](ctx, s.db,
		`FOR b IN branch FILTER b.component == @component AND b.type == "BASE" LIMIT 1 RETURN b`,
		map[string]interface{}{"component": component})
}

// FindVulnAnalysis returns the analysis record for a finding at one scope.
func (s *Store) FindVulnAnalysis(ctx context.Context, org string, scope model.AnalysisScope, scopeKey, location, findingID string, findingType model.FindingType) (*model.VulnAnalysis, error) {
	query := `
		FOR va IN vuln_analysis
			FILTER va.org == @org
			   AND va.location == @location
			   AND va.finding_id == @finding_id
			   AND va.finding_type == @finding_type
			   AND va.scope == @scope
			   AND va.scope_key == @scope_key
			SORT va.updated_at DESC
			LIMIT 1
			RETURN va
	`
	return queryOne[model.VulnAnalysis](ctx, s.db, query, map[string]interface{}{
		"org":          org,
		"location":     location,
		"finding_id":   findingID,
		"finding_type": findingType,
		"scope":        scope,
		"scope_key":    scopeKey,
	})
}

// GetOSVRecord loads the OSV record for a vulnerability id or one of its
// aliases, returning nil when the advisory is unknown.
func (s *Store) GetOSVRecord(ctx context.Context, id string) (*models.Vulnerability, error) {
	return queryOne[models.Vulnerability](ctx, s.db,
		`FOR c IN cve FILTER c.id == @id OR @id IN c.aliases LIMIT 1 RETURN c`,
		map[string]interface{}{"id": id})
}

// ListReleaseKeysInScope returns the keys of the org's releases covered by an
// analysis scope.
func (s *Store) ListReleaseKeysInScope(ctx context.Context, org string, scope model.AnalysisScope, scopeKey string) ([]string, error) {
	var filter string
	switch scope {
	case model.ScopeRelease:
		filter = `r._key == @scope_key`
	case model.ScopeBranch:
		filter = `r.branch == @scope_key`
	case model.ScopeComponent:
		filter = `r.component == @scope_key`
	case model.ScopeOrg:
		return s.ListReleaseKeysByOrg(ctx, org)
	default:
		return nil, fmt.Errorf("unsupported analysis scope %q", scope)
	}
	query := `FOR r IN release FILTER r.org == @org AND ` + filter + ` SORT r._key RETURN r._key`
	return queryAll[string](ctx, s.db, query, map[string]interface{}{"org": org, "scope_key": scopeKey})
}
