package sqlcheck

// Policy is the configurable safety and complexity policy. The exact
// keyword list and scoring cutoffs are deployment decisions; DefaultPolicy
// documents the shipped defaults.
type Policy struct {
	// MaxComplexity rejects queries whose score exceeds it.
	MaxComplexity int

	// Scoring weights.
	JoinWeight       int
	CartesianPenalty int
	WildcardPenalty  int
	NoLimitPenalty   int

	// BlockedKeywords rejects any statement containing one of these words
	// outside string literals, regardless of position.
	BlockedKeywords []string

	// BlockedFunctions and BlockedFunctionPrefixes reject calls to
	// system, file, or network routines.
	BlockedFunctions        []string
	BlockedFunctionPrefixes []string
}

// DefaultPolicy: score = 2 per joined table, +3 for cartesian risk (cross
// join, comma join, or more joins than join predicates), +2 for a wildcard
// projection, +2 when no LIMIT is present; threshold 15.
func DefaultPolicy() Policy {
	return Policy{
		MaxComplexity:    15,
		JoinWeight:       2,
		CartesianPenalty: 3,
		WildcardPenalty:  2,
		NoLimitPenalty:   2,
		BlockedKeywords: []string{
			"insert", "update", "delete", "merge",
			"drop", "truncate", "alter", "create",
			"grant", "revoke", "copy", "vacuum", "reindex", "cluster",
			"execute", "exec", "call", "do", "declare", "prepare",
			"listen", "notify", "set", "reset", "shutdown",
			"union",
		},
		BlockedFunctions: []string{
			"pg_sleep", "pg_read_file", "pg_read_binary_file", "pg_ls_dir",
			"pg_terminate_backend", "pg_cancel_backend", "pg_reload_conf",
			"dblink", "dblink_exec", "dblink_connect",
			"lo_import", "lo_export",
			"query_to_xml", "database_to_xml",
		},
		BlockedFunctionPrefixes: []string{"pg_", "lo_", "dblink"},
	}
}

// WithMaxComplexity returns a copy with the threshold replaced; zero or
// negative keeps the default.
func (p Policy) WithMaxComplexity(threshold int) Policy {
	if threshold > 0 {
		p.MaxComplexity = threshold
	}
	return p
}
