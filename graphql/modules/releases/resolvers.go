package releases

import (
	"encoding/json"

	"github.com/ortelius/pdvd-rollup/internal/rollup"
	"github.com/ortelius/pdvd-rollup/model"
)

// toMap turns a document into its JSON field map so the default resolvers
// find fields by their JSON names.
func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func parentKeys(src map[string]interface{}) []string {
	list, _ := src["parent_releases"].([]interface{})
	keys := make([]string, 0, len(list))
	for _, item := range list {
		if p, ok := item.(map[string]interface{}); ok {
			if k, _ := p["release"].(string); k != "" {
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// ResolveRelease renders a release for the Release type.
func ResolveRelease(rel *model.Release) (interface{}, error) {
	if rel == nil {
		return nil, nil
	}
	return toMap(rel)
}

// ResolveOutcome renders a rollup outcome for the RollupResult type.
func ResolveOutcome(out *rollup.Outcome) (interface{}, error) {
	if out == nil {
		return nil, nil
	}
	release, err := ResolveRelease(out.Release)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"written": out.Written, "release": release}, nil
}
