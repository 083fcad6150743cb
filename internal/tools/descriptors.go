package tools

import "github.com/tmc/langchaingo/llms"

// Tool names as exposed to the provider.
const (
	ToolSearchWeb = "search_web"
	ToolVisitPage = "visit_page"
)

// Descriptors returns the JSON-schema tool descriptors attached to
// generation requests.
func Descriptors() []llms.Tool {
	return []llms.Tool{
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        ToolSearchWeb,
				Description: "Run a web search for the given query and return result snippets (title, url, summary).",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{
							"type":        "string",
							"description": "The search query.",
						},
					},
					"required": []string{"query"},
				},
			},
		},
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        ToolVisitPage,
				Description: "Visit a web page and extract its main textual content.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"url": map[string]any{
							"type":        "string",
							"description": "The URL to fetch.",
						},
					},
					"required": []string{"url"},
				},
			},
		},
	}
}
