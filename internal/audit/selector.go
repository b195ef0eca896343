// Package audit selects files, gathers retrieval context, runs the
// tiered analysis providers and orchestrates full repository audits.
package audit

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// DefaultMaxFiles caps how many files one audit will analyze.
const DefaultMaxFiles = 10

// skipDirs are directories whose contents are never audited.
var skipDirs = []string{
	"node_modules", "target", ".git", "build", "dist", ".idea",
	"coverage", ".vscode", "__pycache__", "vendor", ".gradle",
	"test", "tests", "__tests__", "spec", "specs",
	"docs", "documentation", "examples",
}

// auditableExts are the only file types worth analyzing.
var auditableExts = []string{
	".java", ".py", ".js", ".ts", ".tsx", ".jsx",
	".go", ".rs", ".rb", ".php", ".c", ".cpp", ".h",
}

// lowValuePatterns name UI plumbing that rarely carries security or
// architecture defects.
var lowValuePatterns = []string{
	"loading", "not-found", "error", "404", "500",
	"layout", "_app", "_document",
	"-card", "-badge", "-avatar", "-icon", "-button",
	"-chart", "-graph", "-skeleton", "-spinner",
	"component", "util", "helper", "constant", "config",
	"type", "interface", "enum", "dto",
}

// criticalPatterns rescue a low-value match when the file also touches
// security-relevant surface.
var criticalPatterns = []string{
	"api/", "route", "endpoint", "view", "handler",
	"action", "server", "service",
	"auth", "login", "signin", "signup", "password",
	"middleware", "guard", "protect", "security",
	"schema", "validation", "validator", "form",
	"model", "database", "prisma", "query",
	"payment", "checkout", "billing", "stripe",
	"upload", "file", "storage",
	"views.py", "urls.py", "models.py", "serializers.py", "settings.py",
}

// highPriorityFolders are analyzed before everything else.
var highPriorityFolders = []string{
	"src", "lib", "app", "services", "service",
	"controllers", "controller", "models", "model",
	"api", "routes", "handlers", "core",
}

// Selector filters and orders a repository's file listing down to the
// files one audit will analyze. Select is pure: equal input always
// yields equal output.
type Selector struct {
	MaxFiles int
}

// NewSelector returns a Selector with the default cap.
func NewSelector() *Selector {
	return &Selector{MaxFiles: DefaultMaxFiles}
}

// Select filters paths to auditable code, puts high-priority folders
// first preserving the input order within each class, and truncates to
// MaxFiles.
func (s *Selector) Select(paths []string) []string {
	maxFiles := s.MaxFiles
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}

	var high, normal []string
	for _, p := range paths {
		if !auditable(p) {
			continue
		}
		if highPriority(p) {
			high = append(high, p)
		} else {
			normal = append(normal, p)
		}
	}

	selected := append(high, normal...)
	if len(selected) > maxFiles {
		selected = selected[:maxFiles]
	}

	log.Debug().
		Int("total", len(paths)).
		Int("high_priority", len(high)).
		Int("selected", len(selected)).
		Msg("selected audit files")
	return selected
}

func auditable(path string) bool {
	p := strings.ToLower(path)

	for _, dir := range skipDirs {
		if strings.HasPrefix(p, dir+"/") || strings.Contains(p, "/"+dir+"/") {
			return false
		}
	}

	hasExt := false
	for _, ext := range auditableExts {
		if strings.HasSuffix(p, ext) {
			hasExt = true
			break
		}
	}
	if !hasExt {
		return false
	}

	for _, pattern := range lowValuePatterns {
		if strings.Contains(p, pattern) {
			if !critical(p) {
				return false
			}
			break
		}
	}
	return true
}

func critical(lowerPath string) bool {
	for _, pattern := range criticalPatterns {
		if strings.Contains(lowerPath, pattern) {
			return true
		}
	}
	return false
}

func highPriority(path string) bool {
	p := strings.ToLower(path)
	for _, folder := range highPriorityFolders {
		if strings.HasPrefix(p, folder+"/") || strings.Contains(p, "/"+folder+"/") {
			return true
		}
	}
	return false
}
