package sqlguard

import (
	"encoding/json"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

const (
	ReasonUnparseable        = "unparseable"
	ReasonMultipleStatements = "multiple statements"
	ReasonSelectInto         = "select into"
	ReasonLockingClause      = "for update"
)

// Verdict is the outcome of Validate. SQL holds the candidate statement in
// both cases; only an Allowed verdict may be executed.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	SQL     string `json:"sql"`
	Reason  string `json:"reason,omitempty"`
}

func Allow(sql string) Verdict {
	return Verdict{Allowed: true, SQL: sql}
}

func Reject(reason string) Verdict {
	return Verdict{Allowed: false, Reason: reason}
}

// deniedFunctions have side effects even inside a read-only select.
var deniedFunctions = map[string]struct{}{
	"pg_terminate_backend":    {},
	"pg_cancel_backend":       {},
	"pg_reload_conf":          {},
	"pg_rotate_logfile":       {},
	"pg_promote":              {},
	"set_config":              {},
	"lo_import":               {},
	"lo_export":               {},
	"lo_unlink":               {},
	"dblink":                  {},
	"dblink_exec":             {},
	"pg_sleep":                {},
	"pg_sleep_for":            {},
	"pg_sleep_until":          {},
	"pg_advisory_lock":        {},
	"pg_advisory_xact_lock":   {},
	"pg_read_file":            {},
	"pg_read_binary_file":     {},
	"pg_ls_dir":               {},
	"pg_stat_file":            {},
	"nextval":                 {},
	"setval":                  {},
	"txid_current":            {},
	"pg_create_restore_point": {},
}

var mutatingNodes = map[string]string{
	"InsertStmt": "insert",
	"UpdateStmt": "update",
	"DeleteStmt": "delete",
	"MergeStmt":  "merge",
}

// Validate allows only a single read-only SELECT. The statement is parsed
// with the PostgreSQL parser and the full tree is inspected; anything that
// cannot be parsed is rejected.
func Validate(sql string) Verdict {
	verdict := validate(sql)
	verdict.SQL = sql
	return verdict
}

func validate(sql string) Verdict {
	if strings.TrimSpace(sql) == "" {
		return Reject(ReasonUnparseable)
	}
	tree, err := pg_query.ParseToJSON(sql)
	if err != nil {
		return Reject(ReasonUnparseable)
	}
	var parsed struct {
		Stmts []struct {
			Stmt map[string]json.RawMessage `json:"stmt"`
		} `json:"stmts"`
	}
	if err := json.Unmarshal([]byte(tree), &parsed); err != nil || len(parsed.Stmts) == 0 {
		return Reject(ReasonUnparseable)
	}

	roots := make([]string, 0, len(parsed.Stmts))
	for _, stmt := range parsed.Stmts {
		roots = append(roots, nodeType(stmt.Stmt))
	}
	if len(roots) > 1 {
		for _, root := range roots {
			if root != "SelectStmt" {
				return Reject(operationName(root))
			}
		}
		return Reject(ReasonMultipleStatements)
	}
	if roots[0] != "SelectStmt" {
		return Reject(operationName(roots[0]))
	}

	var body any
	if err := json.Unmarshal(parsed.Stmts[0].Stmt["SelectStmt"], &body); err != nil {
		return Reject(ReasonUnparseable)
	}
	if reason, found := inspect(body); found {
		return Reject(reason)
	}
	return Allow(sql)
}

// inspect walks a decoded parse tree and returns the first disallowed
// construct it finds.
func inspect(node any) (string, bool) {
	switch value := node.(type) {
	case map[string]any:
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			child := value[key]
			if op, ok := mutatingNodes[key]; ok {
				return op, true
			}
			switch key {
			case "intoClause":
				return ReasonSelectInto, true
			case "lockingClause":
				return ReasonLockingClause, true
			case "FuncCall":
				if name := funcName(child); name != "" {
					if _, denied := deniedFunctions[name]; denied {
						return "function " + name, true
					}
				}
			}
			if reason, found := inspect(child); found {
				return reason, true
			}
		}
	case []any:
		for _, child := range value {
			if reason, found := inspect(child); found {
				return reason, true
			}
		}
	}
	return "", false
}

// funcName returns the unqualified, lower-cased name of a FuncCall node.
func funcName(node any) string {
	call, ok := node.(map[string]any)
	if !ok {
		return ""
	}
	parts, ok := call["funcname"].([]any)
	if !ok || len(parts) == 0 {
		return ""
	}
	last, ok := parts[len(parts)-1].(map[string]any)
	if !ok {
		return ""
	}
	str, ok := last["String"].(map[string]any)
	if !ok {
		return ""
	}
	name, _ := str["sval"].(string)
	return strings.ToLower(name)
}

func nodeType(stmt map[string]json.RawMessage) string {
	for key := range stmt {
		return key
	}
	return ""
}

// operationName maps a parse node type such as "AlterTableStmt" to the
// operation a caller would recognise, e.g. "alter".
func operationName(nodeType string) string {
	if op, ok := mutatingNodes[nodeType]; ok {
		return op
	}
	switch {
	case nodeType == "":
		return ReasonUnparseable
	case nodeType == "DropStmt" || strings.HasPrefix(nodeType, "Drop"):
		return "drop"
	case strings.HasPrefix(nodeType, "Alter"):
		return "alter"
	case nodeType == "TruncateStmt":
		return "truncate"
	case strings.HasPrefix(nodeType, "Create") || nodeType == "IndexStmt" || nodeType == "ViewStmt":
		return "create"
	case nodeType == "ExplainStmt":
		return "explain"
	case nodeType == "CopyStmt":
		return "copy"
	case nodeType == "GrantStmt" || nodeType == "GrantRoleStmt":
		return "grant"
	case nodeType == "VariableSetStmt":
		return "set"
	case nodeType == "TransactionStmt":
		return "transaction"
	case nodeType == "DoStmt":
		return "do"
	case nodeType == "CallStmt":
		return "call"
	}
	return strings.ToLower(strings.TrimSuffix(nodeType, "Stmt"))
}
