package sqlcheck

import (
	"fmt"
	"strings"

	"github.com/Iriajul/LLM-model/internal/schema"
)

// Validator applies the layered checks in a fixed order and rejects on the
// first failure: statement kind, schema qualification, forbidden constructs,
// complexity.
type Validator struct {
	policy Policy
}

// New builds a validator from policy, filling any unset knob or nil blocklist
// from DefaultPolicy. Caller-provided lists are kept as-is; an empty non-nil
// list disables that check.
func New(policy Policy) *Validator {
	defaults := DefaultPolicy()
	if policy.MaxComplexity <= 0 {
		policy.MaxComplexity = defaults.MaxComplexity
	}
	if policy.JoinWeight <= 0 {
		policy.JoinWeight = defaults.JoinWeight
	}
	if policy.CartesianPenalty <= 0 {
		policy.CartesianPenalty = defaults.CartesianPenalty
	}
	if policy.WildcardPenalty <= 0 {
		policy.WildcardPenalty = defaults.WildcardPenalty
	}
	if policy.NoLimitPenalty <= 0 {
		policy.NoLimitPenalty = defaults.NoLimitPenalty
	}
	if policy.BlockedKeywords == nil {
		policy.BlockedKeywords = defaults.BlockedKeywords
	}
	if policy.BlockedFunctions == nil {
		policy.BlockedFunctions = defaults.BlockedFunctions
	}
	if policy.BlockedFunctionPrefixes == nil {
		policy.BlockedFunctionPrefixes = defaults.BlockedFunctionPrefixes
	}
	return &Validator{policy: policy}
}

func (v *Validator) Validate(sqlText string, snap *schema.Snapshot) Verdict {
	scan := scanSQL(sqlText)
	tokens := stripTrailingSemicolons(scan.tokens)
	if len(tokens) == 0 {
		return reject(ReasonForbiddenStatement, "empty statement")
	}

	head := tokens[0]
	if head.kind != tokenWord || (head.text != "select" && head.text != "with") {
		return reject(ReasonForbiddenStatement, fmt.Sprintf("statement must be a SELECT, got %q", head.text))
	}
	for _, tok := range tokens {
		if tok.kind == tokenPunct && tok.text == ";" {
			return reject(ReasonForbiddenStatement, "multiple statements are not allowed")
		}
	}

	ctes := cteNames(tokens)
	refs, commaJoins := tableRefs(tokens)
	schemaName := strings.ToLower(snap.SchemaName)
	for _, ref := range refs {
		if ref.schema != "" && ref.schema != schemaName {
			return reject(ReasonSchemaMismatch, fmt.Sprintf("table %s.%s is outside schema %q", ref.schema, ref.table, snap.SchemaName))
		}
		if ref.schema == "" && ctes[ref.table] {
			continue
		}
		if _, ok := snap.Table(ref.table); !ok {
			return reject(ReasonUnknownTable, fmt.Sprintf("table %q does not exist in schema %q", ref.table, snap.SchemaName))
		}
	}

	if scan.hasComment {
		return reject(ReasonForbiddenConstruct, "comments are not allowed")
	}
	if scan.unterminated {
		return reject(ReasonForbiddenConstruct, "unterminated quoted literal")
	}
	for i, tok := range tokens {
		if tok.kind != tokenWord {
			continue
		}
		if v.blockedKeyword(tok.text) {
			return reject(ReasonForbiddenConstruct, fmt.Sprintf("keyword %q is not allowed", tok.text))
		}
		if i+1 < len(tokens) && tokens[i+1].kind == tokenPunct && tokens[i+1].text == "(" && v.blockedFunction(tok.text) {
			return reject(ReasonForbiddenConstruct, fmt.Sprintf("function %q is not allowed", tok.text))
		}
	}

	score := v.complexity(tokens, commaJoins)
	if score > v.policy.MaxComplexity {
		return reject(ReasonComplexityExceeded, fmt.Sprintf("complexity score %d exceeds limit %d", score, v.policy.MaxComplexity))
	}
	return accept(score)
}

func (v *Validator) blockedKeyword(word string) bool {
	for _, blocked := range v.policy.BlockedKeywords {
		if word == blocked {
			return true
		}
	}
	return false
}

func (v *Validator) blockedFunction(name string) bool {
	for _, blocked := range v.policy.BlockedFunctions {
		if name == blocked {
			return true
		}
	}
	for _, prefix := range v.policy.BlockedFunctionPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func (v *Validator) complexity(tokens []token, commaJoins int) int {
	joins := 0
	cross := false
	predicates := 0
	wildcard := false
	hasLimit := false
	for i, tok := range tokens {
		if tok.kind == tokenWord {
			switch tok.text {
			case "join":
				joins++
			case "cross":
				if i+1 < len(tokens) && tokens[i+1].kind == tokenWord && tokens[i+1].text == "join" {
					cross = true
				}
			case "on", "using":
				predicates++
			case "limit", "fetch":
				hasLimit = true
			}
			continue
		}
		if tok.kind == tokenPunct && tok.text == "*" && i > 0 {
			prev := tokens[i-1]
			if (prev.kind == tokenWord && prev.text == "select") ||
				(prev.kind == tokenPunct && (prev.text == "," || prev.text == ".")) {
				wildcard = true
			}
		}
	}

	score := v.policy.JoinWeight * (joins + commaJoins)
	if cross || commaJoins > 0 || joins > predicates {
		score += v.policy.CartesianPenalty
	}
	if wildcard {
		score += v.policy.WildcardPenalty
	}
	if !hasLimit {
		score += v.policy.NoLimitPenalty
	}
	return score
}

type tableRef struct {
	schema string
	table  string
}

// tableRefs extracts every table referenced after FROM or JOIN, including
// inside subqueries (the outer scan revisits nested FROM keywords). Function
// calls in FROM position surface as refs and fail the snapshot check, which
// is the intended conservative behavior.
func tableRefs(tokens []token) ([]tableRef, int) {
	var refs []tableRef
	commaJoins := 0
	inFuncArgs := funcArgMask(tokens)
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.kind != tokenWord || (tok.text != "from" && tok.text != "join") {
			continue
		}
		if inFuncArgs[i] {
			// FROM inside EXTRACT/SUBSTRING/TRIM syntax, not a table source
			continue
		}
		j := i + 1
		for j < len(tokens) {
			if tokens[j].kind == tokenWord && tokens[j].text == "lateral" {
				j++
				continue
			}
			if tokens[j].kind == tokenPunct && tokens[j].text == "(" {
				// subquery: its own FROM is picked up by the outer scan
				break
			}
			if !isIdentToken(tokens[j]) {
				break
			}
			ref := tableRef{table: tokens[j].text}
			if j+2 < len(tokens) && tokens[j+1].kind == tokenPunct && tokens[j+1].text == "." && isIdentToken(tokens[j+2]) {
				ref.schema = ref.table
				ref.table = tokens[j+2].text
				j += 2
			}
			refs = append(refs, ref)
			j++
			if j < len(tokens) && tokens[j].kind == tokenWord && tokens[j].text == "as" {
				j++
				if j < len(tokens) && isIdentToken(tokens[j]) {
					j++
				}
			} else if j < len(tokens) && isIdentToken(tokens[j]) && !isClauseKeyword(tokens[j].text) {
				j++
			}
			if tok.text == "from" && j < len(tokens) && tokens[j].kind == tokenPunct && tokens[j].text == "," {
				commaJoins++
				j++
				continue
			}
			break
		}
		i = j - 1
	}
	return refs, commaJoins
}

// cteNames collects names introduced by a WITH clause so they are not
// mistaken for schema tables.
func cteNames(tokens []token) map[string]bool {
	names := map[string]bool{}
	if len(tokens) == 0 || tokens[0].kind != tokenWord || tokens[0].text != "with" {
		return names
	}
	i := 1
	if i < len(tokens) && tokens[i].kind == tokenWord && tokens[i].text == "recursive" {
		i++
	}
	for i < len(tokens) {
		if !isIdentToken(tokens[i]) {
			break
		}
		name := tokens[i].text
		i++
		if i < len(tokens) && tokens[i].kind == tokenPunct && tokens[i].text == "(" {
			i = skipParens(tokens, i)
		}
		if i >= len(tokens) || tokens[i].kind != tokenWord || tokens[i].text != "as" {
			break
		}
		i++
		if i >= len(tokens) || tokens[i].kind != tokenPunct || tokens[i].text != "(" {
			break
		}
		names[name] = true
		i = skipParens(tokens, i)
		if i < len(tokens) && tokens[i].kind == tokenPunct && tokens[i].text == "," {
			i++
			continue
		}
		break
	}
	return names
}

// funcArgMask marks tokens whose innermost enclosing paren belongs to a call
// whose SQL syntax embeds a FROM keyword (EXTRACT, SUBSTRING, TRIM, POSITION,
// OVERLAY). Only the stack top counts: a subquery paren opened inside such a
// call un-masks its contents, so its table references stay checkable.
func funcArgMask(tokens []token) []bool {
	special := map[string]bool{
		"extract": true, "substring": true, "trim": true,
		"position": true, "overlay": true,
	}
	mask := make([]bool, len(tokens))
	var stack []bool
	for i, tok := range tokens {
		if tok.kind == tokenPunct && tok.text == "(" {
			opensSpecial := i > 0 && tokens[i-1].kind == tokenWord && special[tokens[i-1].text]
			stack = append(stack, opensSpecial)
		}
		if len(stack) > 0 && stack[len(stack)-1] {
			mask[i] = true
		}
		if tok.kind == tokenPunct && tok.text == ")" && len(stack) > 0 {
			stack = stack[:len(stack)-1]
		}
	}
	return mask
}

func skipParens(tokens []token, start int) int {
	depth := 0
	for i := start; i < len(tokens); i++ {
		if tokens[i].kind != tokenPunct {
			continue
		}
		switch tokens[i].text {
		case "(":
			depth++
		case ")":
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(tokens)
}

func stripTrailingSemicolons(tokens []token) []token {
	end := len(tokens)
	for end > 0 && tokens[end-1].kind == tokenPunct && tokens[end-1].text == ";" {
		end--
	}
	return tokens[:end]
}

func isIdentToken(tok token) bool {
	return tok.kind == tokenWord || tok.kind == tokenQuotedIdent
}

func isClauseKeyword(word string) bool {
	switch word {
	case "where", "join", "inner", "left", "right", "full", "cross", "natural",
		"on", "using", "group", "order", "limit", "offset", "having",
		"union", "intersect", "except", "for", "with", "window", "fetch":
		return true
	default:
		return false
	}
}
