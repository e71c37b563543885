// Package patterns classifies changed file paths as test, code or dependency
// manifest files.
package patterns

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// DefaultTestPatterns cover the usual naming schemes across ecosystems.
var DefaultTestPatterns = []string{
	`\.(test|spec)\.(js|ts|jsx|tsx|mjs|cjs|py|go|rs|rb)$`,
	`__tests__/`,
	`(^|/)tests?/`,
	`_test\.(go|rs|py)$`,
	`(^|/)test_[^/]+\.py$`,
	`(^|/)src/test/`,
	`(Test|Tests)\.(java|kt|cs)$`,
	`_spec\.rb$`,
}

// DefaultCodeExtensions are the extensions counted as source code.
var DefaultCodeExtensions = []string{
	"js", "ts", "jsx", "tsx", "mjs", "cjs", "py", "go", "rs", "java", "kt",
	"rb", "php", "c", "cc", "cpp", "h", "hpp", "cs", "swift", "scala",
}

// DefaultDependencyFiles are manifest and lock file base names.
var DefaultDependencyFiles = []string{
	"package.json", "package-lock.json", "yarn.lock", "pnpm-lock.yaml",
	"requirements.txt", "Pipfile", "Pipfile.lock", "pyproject.toml", "poetry.lock",
	"go.mod", "go.sum", "Cargo.toml", "Cargo.lock", "pom.xml", "build.gradle",
	"build.gradle.kts", "Gemfile", "Gemfile.lock", "composer.json", "composer.lock",
}

// Matcher holds compiled path predicates.
type Matcher struct {
	tests      []*regexp.Regexp
	extensions map[string]bool
	depFiles   map[string]bool
}

// New compiles a Matcher. Empty lists fall back to the defaults.
func New(testPatterns, codeExtensions []string) (*Matcher, error) {
	if len(testPatterns) == 0 {
		testPatterns = DefaultTestPatterns
	}
	if len(codeExtensions) == 0 {
		codeExtensions = DefaultCodeExtensions
	}

	m := &Matcher{
		extensions: make(map[string]bool, len(codeExtensions)),
		depFiles:   make(map[string]bool, len(DefaultDependencyFiles)),
	}
	for _, p := range testPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile test pattern %q: %w", p, err)
		}
		m.tests = append(m.tests, re)
	}
	for _, ext := range codeExtensions {
		m.extensions[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	for _, name := range DefaultDependencyFiles {
		m.depFiles[name] = true
	}
	return m, nil
}

// Default returns a Matcher built from the default lists.
func Default() *Matcher {
	m, err := New(nil, nil)
	if err != nil {
		panic(err)
	}
	return m
}

// IsTest reports whether the path follows a test naming convention.
func (m *Matcher) IsTest(p string) bool {
	for _, re := range m.tests {
		if re.MatchString(p) {
			return true
		}
	}
	return false
}

// IsCode reports whether the path has a source code extension.
func (m *Matcher) IsCode(p string) bool {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	return ext != "" && m.extensions[ext]
}

// IsImplementation reports whether the path is source code that is not a test.
func (m *Matcher) IsImplementation(p string) bool {
	return m.IsCode(p) && !m.IsTest(p)
}

// IsDependency reports whether the path is a dependency manifest or lock file.
func (m *Matcher) IsDependency(p string) bool {
	return m.depFiles[path.Base(p)]
}
