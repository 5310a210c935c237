package postgres

import "strings"

// ResolveSchemas normalizes and expands schema filter values.
// Empty input means "all non-system schemas" (no filtering).
// "all" or "*" means the same. Otherwise returns the provided schemas.
func ResolveSchemas(schemas []string) []string {
	if len(schemas) == 0 {
		return nil
	}
	for _, s := range schemas {
		lower := strings.ToLower(strings.TrimSpace(s))
		if lower == "all" || lower == "*" {
			return nil
		}
	}
	result := make([]string, 0, len(schemas))
	for _, s := range schemas {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}

// FilterTables drops tables excluded by schema or by table pattern.
// Table patterns match the bare name or schema.name and support a
// trailing wildcard ("tmp_*"). The result is never nil when filters are
// given: filtering everything away yields an empty slice, which callers
// must keep distinct from "no table set supplied".
func FilterTables(tables []TableSecurity, excludeSchemas, excludeTables []string) []TableSecurity {
	if len(excludeSchemas) == 0 && len(excludeTables) == 0 {
		return tables
	}

	schemaSet := make(map[string]bool, len(excludeSchemas))
	for _, s := range excludeSchemas {
		schemaSet[strings.ToLower(strings.TrimSpace(s))] = true
	}

	kept := make([]TableSecurity, 0, len(tables))
	for _, t := range tables {
		if schemaSet[strings.ToLower(t.Schema)] {
			continue
		}
		if matchesAny(excludeTables, t.Name) || matchesAny(excludeTables, t.QualifiedName()) {
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

func matchesAny(patterns []string, name string) bool {
	name = strings.ToLower(name)
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if strings.HasSuffix(p, "*") {
			if strings.HasPrefix(name, strings.TrimSuffix(p, "*")) {
				return true
			}
			continue
		}
		if p == name {
			return true
		}
	}
	return false
}
