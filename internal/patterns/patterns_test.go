package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTest(t *testing.T) {
	m := Default()

	tests := []struct {
		path string
		want bool
	}{
		{"src/foo.test.js", true},
		{"src/foo.spec.ts", true},
		{"__tests__/foo.js", true},
		{"tests/integration/bar.py", true},
		{"test/helpers.rb", true},
		{"lib/foo_test.go", true},
		{"pkg/test_parser.py", true},
		{"app/src/test/java/FooTest.java", true},
		{"spec/models/user_spec.rb", true},

		{"src/index.js", false},
		{"lib/utils.ts", false},
		{"README.md", false},
		{"internal/testing.go", false},
		{"contest/main.go", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, m.IsTest(tt.path))
		})
	}
}

func TestIsCodeAndImplementation(t *testing.T) {
	m := Default()

	assert.True(t, m.IsCode("cmd/server.go"))
	assert.True(t, m.IsCode("pkg/auth/handler.rs"))
	assert.True(t, m.IsCode("App.TSX"))
	assert.False(t, m.IsCode("README.md"))
	assert.False(t, m.IsCode(".gitignore"))
	assert.False(t, m.IsCode("Makefile"))

	assert.True(t, m.IsImplementation("cmd/server.go"))
	assert.False(t, m.IsImplementation("cmd/server_test.go"))
	assert.False(t, m.IsImplementation("docs/guide.txt"))
}

func TestIsDependency(t *testing.T) {
	m := Default()

	for _, p := range []string{"package.json", "web/package-lock.json", "go.mod", "go.sum", "Cargo.lock", "Gemfile"} {
		assert.True(t, m.IsDependency(p), p)
	}
	for _, p := range []string{"src/index.js", "config.json", "docs/go.mod.md"} {
		assert.False(t, m.IsDependency(p), p)
	}
}

func TestNew_CustomLists(t *testing.T) {
	m, err := New([]string{`(^|/)spec/`}, []string{".kt"})
	require.NoError(t, err)

	assert.True(t, m.IsTest("spec/foo.kt"))
	assert.False(t, m.IsTest("src/foo_test.go"), "custom list replaces defaults")
	assert.True(t, m.IsCode("src/Main.kt"))
	assert.False(t, m.IsCode("src/main.go"))
}

func TestNew_InvalidPattern(t *testing.T) {
	_, err := New([]string{"("}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile test pattern")
}
