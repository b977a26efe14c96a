package llm

import (
	"fmt"
	"strings"
)

const generateSystemPrompt = "You are an expert PostgreSQL query writer. " +
	"Your only task is to generate a single, syntactically correct PostgreSQL SELECT query " +
	"for the provided schema and question. " +
	"Output ONLY the SQL query. No explanations, no markdown, no commentary."

const correctSystemPrompt = "You are a PostgreSQL expert specializing in debugging SQL queries. " +
	"The previous query failed. Analyze the failure and rewrite the query to fix it. " +
	"Output ONLY the corrected PostgreSQL query. No explanations, no markdown."

const formatSystemPrompt = "You are a helpful assistant. " +
	"Answer the user's question concisely using ONLY the provided database result. " +
	"If the result is empty, say that no matching data was found. " +
	"Do not mention SQL or add information not present in the result."

// messages builds the chat payload for one prompt. The guidelines mirror the
// generation contract: schema-qualified tables, explicit columns, ordered and
// bounded output.
func messages(prompt PromptSpec) ([]map[string]string, error) {
	switch prompt.Role {
	case RoleGenerate:
		user := fmt.Sprintf(
			"DATABASE SCHEMA:\n%s\nUSER QUESTION:\n%s\n\nRules:\n"+
				"- Reference tables as %s.table_name.\n"+
				"- Never SELECT *; project only the columns needed.\n"+
				"- Order results by a relevant column.\n"+
				"- Include a LIMIT unless the question asks for an aggregate.\n"+
				"- Only SELECT statements; never modify data.\n"+
				"- If the question cannot be answered from the schema, return SELECT NULL WHERE 1=0.",
			prompt.SchemaDDL, strings.TrimSpace(prompt.Question), prompt.SchemaName,
		)
		return chat(generateSystemPrompt, user), nil
	case RoleCorrect:
		user := fmt.Sprintf(
			"DATABASE SCHEMA:\n%s\nORIGINAL QUESTION:\n%s\n\nFAILED SQL QUERY:\n%s\n\nFAILURE REASON:\n%s\n\n"+
				"Rewrite the query so it executes successfully. Keep it a single schema-qualified SELECT.",
			prompt.SchemaDDL, strings.TrimSpace(prompt.Question), prompt.PriorSQL, prompt.FailureReason,
		)
		return chat(correctSystemPrompt, user), nil
	case RoleFormatAnswer:
		user := fmt.Sprintf(
			"QUESTION:\n%s\n\nDATABASE RESULT (JSON rows):\n%s",
			strings.TrimSpace(prompt.Question), prompt.ResultJSON,
		)
		return chat(formatSystemPrompt, user), nil
	default:
		return nil, fmt.Errorf("unknown prompt role %q", prompt.Role)
	}
}

func chat(system, user string) []map[string]string {
	return []map[string]string{
		{"role": "system", "content": system},
		{"role": "user", "content": user},
	}
}
