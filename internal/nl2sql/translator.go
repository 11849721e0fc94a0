// Package nl2sql translates natural-language questions into SQL using an
// OpenAI-compatible chat-completion endpoint.
package nl2sql

import "context"

// TableContext carries the schema and a few sample rows of one table so the
// model can ground its query.
type TableContext struct {
	TableName  string   `json:"table_name"`
	Columns    []string `json:"columns"`
	SampleRows [][]any  `json:"sample_rows"`
}

type Request struct {
	Question string         `json:"question"`
	Dialect  string         `json:"dialect"`
	Tables   []TableContext `json:"tables"`
}

type Result struct {
	SQL      string `json:"sql"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}
