package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/repomind/repomind/internal/ai"
	"github.com/repomind/repomind/internal/store"
)

const (
	// neutralContext is what the analysis prompt receives whenever
	// retrieval finds nothing or fails. Retrieval never blocks a scan.
	neutralContext = "No related code found in repository."

	defaultRetrieveLimit = 5
	defaultMaxContext    = 2000
	defaultMaxChunk      = 500
	maxQueryImports      = 20
)

// Retriever builds a semantic query from the file under analysis and
// fetches related chunks to ground the provider's judgment.
type Retriever struct {
	Client     ai.Client
	Store      store.ChunkSearcher
	Limit      int
	MaxContext int
	MaxChunk   int
}

// NewRetriever returns a Retriever with the default caps.
func NewRetriever(client ai.Client, searcher store.ChunkSearcher) *Retriever {
	return &Retriever{
		Client:     client,
		Store:      searcher,
		Limit:      defaultRetrieveLimit,
		MaxContext: defaultMaxContext,
		MaxChunk:   defaultMaxChunk,
	}
}

// Retrieve returns a formatted context block of the chunks most related
// to the file. Any failure along the way degrades to the neutral
// string; errors never propagate to the caller.
func (r *Retriever) Retrieve(ctx context.Context, repositoryID int64, content, path, language string) string {
	query := BuildQuery(content, path, language)

	vec, err := r.Client.Embed(ctx, query)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("context query embedding failed")
		return neutralContext
	}

	chunks, err := r.Store.SearchChunks(ctx, repositoryID, vec, r.Limit)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("context search failed")
		return neutralContext
	}
	if len(chunks) == 0 {
		return neutralContext
	}

	var b strings.Builder
	b.WriteString("Related code in repository:\n\n")
	for _, chunk := range chunks {
		b.WriteString(fmt.Sprintf("// %s (bytes %d-%d)\n", chunk.Path, chunk.StartOffset, chunk.EndOffset))

		chunkContent := chunk.Content
		if len(chunkContent) > r.MaxChunk {
			chunkContent = chunkContent[:r.MaxChunk] + "\n// ... (truncated)"
		}
		b.WriteString(chunkContent)
		b.WriteString("\n\n")

		if b.Len() > r.MaxContext {
			b.WriteString("// ... (more related code available)")
			break
		}
	}
	return b.String()
}

// BuildQuery assembles a retrieval query from the file's name, import
// symbols, first declared type, language and path-derived role keywords.
func BuildQuery(content, path, language string) string {
	var q strings.Builder

	if i := strings.LastIndex(path, "/"); i >= 0 {
		q.WriteString(path[i+1:])
	} else {
		q.WriteString(path)
	}
	q.WriteString(" ")

	if imports := extractImports(content, language); len(imports) > 0 {
		q.WriteString("imports: ")
		q.WriteString(strings.Join(imports, " "))
		q.WriteString(" ")
	}

	if typeName := extractTypeName(content, language); typeName != "" {
		q.WriteString("type: ")
		q.WriteString(typeName)
		q.WriteString(" ")
	}

	q.WriteString(language)
	q.WriteString(" ")

	lower := strings.ToLower(path)
	switch {
	case strings.Contains(lower, "controller") || strings.Contains(lower, "handler"):
		q.WriteString("API endpoint HTTP request response ")
	case strings.Contains(lower, "service"):
		q.WriteString("business logic service layer ")
	case strings.Contains(lower, "repository") || strings.Contains(lower, "store"):
		q.WriteString("database query persistence ")
	case strings.Contains(lower, "model") || strings.Contains(lower, "entity"):
		q.WriteString("data model entity schema ")
	}

	return strings.TrimSpace(q.String())
}

// extractImports pulls imported symbol names from the first matching
// lines, capped so queries stay short.
func extractImports(content, language string) []string {
	var imports []string
	lang := strings.ToLower(language)

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)

		switch lang {
		case "java", "typescript", "javascript":
			if strings.HasPrefix(line, "import ") && !strings.Contains(line, "*") {
				imported := strings.TrimSuffix(strings.TrimPrefix(line, "import "), ";")
				if i := strings.LastIndex(imported, "."); i >= 0 {
					imports = append(imports, strings.TrimSpace(imported[i+1:]))
				}
			}
		case "python":
			if strings.HasPrefix(line, "from ") || strings.HasPrefix(line, "import ") {
				for _, part := range strings.Fields(line) {
					if part == "from" || part == "import" || part == "as" || strings.Contains(part, ".") {
						continue
					}
					imports = append(imports, strings.TrimSuffix(part, ","))
				}
			}
		case "go":
			if strings.HasPrefix(line, `"`) && strings.HasSuffix(line, `"`) {
				pkg := strings.Trim(line, `"`)
				if i := strings.LastIndex(pkg, "/"); i >= 0 {
					pkg = pkg[i+1:]
				}
				imports = append(imports, pkg)
			}
		}

		if len(imports) >= maxQueryImports {
			break
		}
	}
	return imports
}

// extractTypeName returns the first declared class/struct/type name.
func extractTypeName(content, language string) string {
	lang := strings.ToLower(language)

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)

		switch lang {
		case "java", "typescript", "javascript":
			if strings.Contains(line, "class ") || strings.Contains(line, "interface ") {
				parts := strings.Fields(line)
				for i := 0; i < len(parts)-1; i++ {
					if parts[i] == "class" || parts[i] == "interface" {
						return strings.TrimSuffix(parts[i+1], "{")
					}
				}
			}
		case "python":
			if strings.HasPrefix(line, "class ") {
				name := strings.TrimPrefix(line, "class ")
				if i := strings.IndexAny(name, ":("); i >= 0 {
					name = name[:i]
				}
				return strings.TrimSpace(name)
			}
		case "go":
			if strings.HasPrefix(line, "type ") {
				parts := strings.Fields(line)
				if len(parts) >= 2 {
					return parts[1]
				}
			}
		}
	}
	return ""
}
