package domain

// PromptSpec pairs a prompt template with the JSON schema the AI answer must satisfy.
type PromptSpec struct {
	Ref        string `db:"ref"             yaml:"ref"`
	Template   string `db:"prompt_template" yaml:"template"`
	SchemaJSON string `db:"schema_json"     yaml:"schema"`
}
