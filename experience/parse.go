package experience

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

// ExtractFencedJSON returns the content of the last ```json fenced block
// in a model response. Responses that carry bare JSON with no fence are
// accepted as-is; anything else is an error.
func ExtractFencedJSON(response string) (string, error) {
	p := parser.NewWithExtensions(parser.FencedCode)
	doc := p.Parse([]byte(response))

	var last string
	var found bool
	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		if block, ok := node.(*ast.CodeBlock); ok {
			info := strings.ToLower(strings.TrimSpace(string(block.Info)))
			if info == "json" {
				last = string(block.Literal)
				found = true
			}
		}
		return ast.GoToNext
	})
	if found {
		return strings.TrimSpace(last), nil
	}

	trimmed := strings.TrimSpace(response)
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}
	return "", fmt.Errorf("no json code block in response")
}

var tagPatterns sync.Map // tag name -> *regexp.Regexp

// ExtractTagged returns the content between <tag> and </tag>, matched
// case-insensitively across lines. Missing tags yield an empty string.
func ExtractTagged(response, tag string) string {
	var pattern *regexp.Regexp
	if cached, ok := tagPatterns.Load(tag); ok {
		pattern = cached.(*regexp.Regexp)
	} else {
		pattern = regexp.MustCompile(`(?is)<` + regexp.QuoteMeta(tag) + `>\s*(.*?)\s*</` + regexp.QuoteMeta(tag) + `>`)
		tagPatterns.Store(tag, pattern)
	}
	match := pattern.FindStringSubmatch(response)
	if match == nil {
		return ""
	}
	return strings.TrimSpace(match[1])
}

// ParseOperations extracts the fenced JSON payload of a model response and
// decodes it as a list of update operations.
func ParseOperations(response string) ([]Operation, error) {
	payload, err := ExtractFencedJSON(response)
	if err != nil {
		return nil, err
	}
	return DecodeOperations(payload)
}
