// Package bom stores BOMs under a content digest and detects artifacts whose
// BOM duplicates one already stored in the same org.
package bom

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ortelius/pdvd-rollup/model"
	"github.com/package-url/packageurl-go"
)

// RootPlaceholder replaces the root component reference before hashing so
// regenerated bom-refs of the root do not change the digest.
const RootPlaceholder = "__ROOT_COMPONENT__"

// DetectFormat guesses the BOM format from its top-level fields.
func DetectFormat(doc map[string]interface{}) model.BomFormat {
	if f, _ := doc["bomFormat"].(string); f == "CycloneDX" {
		return model.BomFormatCycloneDX
	}
	if _, ok := doc["spdxVersion"]; ok {
		return model.BomFormatSPDX
	}
	return ""
}

// ComputeDigest parses content and returns the sha256 hex digest of its
// normalized identity, along with the parsed document.
func ComputeDigest(content []byte, format model.BomFormat) (string, map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(content, &doc); err != nil {
		return "", nil, fmt.Errorf("failed to parse bom: %w", err)
	}
	if format == "" {
		format = DetectFormat(doc)
	}

	var normalized map[string]interface{}
	switch format {
	case model.BomFormatCycloneDX:
		normalized = normalizeCycloneDX(doc)
	case model.BomFormatSPDX:
		normalized = normalizeSPDX(doc)
	default:
		return "", nil, fmt.Errorf("unsupported bom format %q", format)
	}

	// encoding/json writes map keys sorted, which makes the output canonical
	canon, err := json.Marshal(normalized)
	if err != nil {
		return "", nil, fmt.Errorf("failed to canonicalize bom: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), doc, nil
}

func normalizeCycloneDX(doc map[string]interface{}) map[string]interface{} {
	rootRef := ""
	if meta, ok := doc["metadata"].(map[string]interface{}); ok {
		if root, ok := meta["component"].(map[string]interface{}); ok {
			rootRef, _ = root["bom-ref"].(string)
		}
	}

	components := make([]map[string]interface{}, 0)
	for _, c := range asList(doc["components"]) {
		comp, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		identity := pick(comp, "bom-ref", "name", "version", "group", "type", "hashes", "licenses")
		if p, ok := comp["purl"].(string); ok && p != "" {
			identity["purl"] = canonicalPurl(p)
		}
		components = append(components, identity)
	}
	sortByKey(components, func(m map[string]interface{}) string {
		if ref, _ := m["bom-ref"].(string); ref != "" {
			return ref
		}
		p, _ := m["purl"].(string)
		return p
	})

	dependencies := make([]map[string]interface{}, 0)
	for _, d := range asList(doc["dependencies"]) {
		dep, ok := d.(map[string]interface{})
		if !ok {
			continue
		}
		ref, _ := dep["ref"].(string)
		if rootRef != "" && ref == rootRef {
			ref = RootPlaceholder
		}
		dependsOn := make([]string, 0)
		for _, on := range asList(dep["dependsOn"]) {
			s, _ := on.(string)
			if rootRef != "" && s == rootRef {
				s = RootPlaceholder
			}
			dependsOn = append(dependsOn, s)
		}
		sort.Strings(dependsOn)
		dependencies = append(dependencies, map[string]interface{}{"ref": ref, "dependsOn": dependsOn})
	}
	sortByKey(dependencies, func(m map[string]interface{}) string {
		ref, _ := m["ref"].(string)
		return ref
	})

	return map[string]interface{}{"components": components, "dependencies": dependencies}
}

func normalizeSPDX(doc map[string]interface{}) map[string]interface{} {
	roots := map[string]bool{}
	for _, r := range asList(doc["documentDescribes"]) {
		if s, ok := r.(string); ok {
			roots[s] = true
		}
	}
	docID, _ := doc["SPDXID"].(string)

	relationships := make([]map[string]interface{}, 0)
	for _, r := range asList(doc["relationships"]) {
		rel, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		from, _ := rel["spdxElementId"].(string)
		to, _ := rel["relatedSpdxElement"].(string)
		kind, _ := rel["relationshipType"].(string)
		if kind == "DESCRIBES" && from == docID {
			roots[to] = true
			continue
		}
		relationships = append(relationships, map[string]interface{}{"from": from, "to": to, "type": kind})
	}
	for _, rel := range relationships {
		for _, end := range []string{"from", "to"} {
			if roots[rel[end].(string)] {
				rel[end] = RootPlaceholder
			}
		}
	}
	sortByKey(relationships, func(m map[string]interface{}) string {
		return m["from"].(string) + "|" + m["type"].(string) + "|" + m["to"].(string)
	})

	packages := make([]map[string]interface{}, 0)
	for _, p := range asList(doc["packages"]) {
		pkg, ok := p.(map[string]interface{})
		if !ok {
			continue
		}
		identity := pick(pkg, "name", "versionInfo", "checksums", "licenseConcluded")
		if id, _ := pkg["SPDXID"].(string); roots[id] {
			identity["SPDXID"] = RootPlaceholder
		} else if id != "" {
			identity["SPDXID"] = id
		}
		for _, ref := range asList(pkg["externalRefs"]) {
			er, ok := ref.(map[string]interface{})
			if !ok {
				continue
			}
			if t, _ := er["referenceType"].(string); t == "purl" {
				if loc, _ := er["referenceLocator"].(string); loc != "" {
					identity["purl"] = canonicalPurl(loc)
				}
			}
		}
		packages = append(packages, identity)
	}
	sortByKey(packages, func(m map[string]interface{}) string {
		id, _ := m["SPDXID"].(string)
		return id
	})

	return map[string]interface{}{"packages": packages, "relationships": relationships}
}

// canonicalPurl rewrites a purl in its canonical string form (sorted
// qualifiers, normalized escaping). Unparseable purls are kept verbatim.
func canonicalPurl(p string) string {
	parsed, err := packageurl.FromString(p)
	if err != nil {
		return p
	}
	return parsed.ToString()
}

func asList(v interface{}) []interface{} {
	list, _ := v.([]interface{})
	return list
}

func pick(src map[string]interface{}, keys ...string) map[string]interface{} {
	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		if v, ok := src[k]; ok && v != nil && v != "" {
			out[k] = v
		}
	}
	return out
}

// sortByKey sorts by primary key, breaking ties by the canonical JSON of the
// entry so the order never depends on input order.
func sortByKey(list []map[string]interface{}, key func(map[string]interface{}) string) {
	tie := func(m map[string]interface{}) string {
		b, _ := json.Marshal(m)
		return string(b)
	}
	sort.SliceStable(list, func(i, j int) bool {
		ki, kj := key(list[i]), key(list[j])
		if ki != kj {
			return ki < kj
		}
		return tie(list[i]) < tie(list[j])
	})
}
