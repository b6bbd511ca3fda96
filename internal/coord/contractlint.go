package coord

import (
	"context"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/clpotvin/claude-code-conductor/internal/store"
)

// lintContract runs a best-effort sanity pass over a contract spec. For
// api_endpoint contracts that look like OpenAPI documents, the document is
// loaded and validated; problems come back as warnings. Lint never rejects
// a registration.
func lintContract(c *store.Contract) []string {
	var warnings []string
	if strings.TrimSpace(c.Specification) == "" {
		return []string{"contract specification is empty"}
	}
	if c.Type != store.ContractAPIEndpoint {
		return nil
	}
	if !looksLikeOpenAPI(c.Specification) {
		return nil
	}

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData([]byte(c.Specification))
	if err != nil {
		return append(warnings, "api_endpoint spec resembles OpenAPI but fails to load: "+err.Error())
	}
	if err := doc.Validate(context.Background()); err != nil {
		return append(warnings, "api_endpoint spec fails OpenAPI validation: "+err.Error())
	}
	return warnings
}

func looksLikeOpenAPI(spec string) bool {
	return strings.Contains(spec, "openapi:") || strings.Contains(spec, `"openapi"`)
}
