package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeetsCompletion(t *testing.T) {
	r := Default()

	tests := []struct {
		name   string
		lesson string
		code   string
		output string
		want   bool
	}{
		{"hello world", "lesson1", `print("Hello, World!")`, "Hello, World!", true},
		{"print without hello", "lesson1", `print("Hi")`, "Hi", false},
		{"hello without print", "lesson1", `x = "Hello"`, "Hello", false},
		{"function", "lesson2", "def add(a, b):\n    return a + b", "", true},
		{"function without return", "lesson2", "def show():\n    print(1)", "1", false},
		{"condition", "lesson3", "if x > 0:\n    pass\nelse:\n    pass", "", true},
		{"condition without else", "lesson3", "if x:\n    pass", "", false},
		{"no rule", "lesson9", `print("Hello")`, "Hello", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.MeetsCompletion(tt.lesson, tt.code, tt.output))
		})
	}
}

func TestValidateExercise(t *testing.T) {
	r := Default()

	tests := []struct {
		name   string
		lesson string
		code   string
		want   bool
	}{
		{"double quotes", "lesson1", `print("hi")`, true},
		{"single quotes alone", "lesson1", `name = 'x'`, true},
		{"print without quotes", "lesson1", `print(42)`, false},
		{"quote without print", "lesson1", `x = "a"`, false},
		{"function", "lesson2", "def f():\n    return 1", true},
		{"condition", "lesson3", "if a:\n  b\nelse:\n  c", true},
		{"no validator accepts", "lesson7", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.ValidateExercise(tt.lesson, tt.code))
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		r, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), r)
	})

	t.Run("file overrides per lesson", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		content := `
completion:
  lesson2:
    - code: ["lambda"]
  lesson4:
    - code: ["for ", "in "]
    - code: ["while "]
exercises:
  lesson4:
    - code: ["range("]
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		r, err := Load(path)
		require.NoError(t, err)

		assert.True(t, r.MeetsCompletion("lesson1", "print()", "Hello"), "untouched lessons keep defaults")
		assert.True(t, r.MeetsCompletion("lesson2", "f = lambda x: x", ""))
		assert.False(t, r.MeetsCompletion("lesson2", "def f():\n    return 1", ""))
		assert.True(t, r.MeetsCompletion("lesson4", "while True: break", ""))
		assert.True(t, r.MeetsCompletion("lesson4", "for i in x: pass", ""))
		assert.False(t, r.ValidateExercise("lesson4", "for i in x: pass"))
		assert.Equal(t, []string{"lesson1", "lesson2", "lesson3", "lesson4"}, r.Completion.Lessons())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read rules file")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		require.NoError(t, os.WriteFile(path, []byte("completion: [unclosed"), 0644))
		_, err := Load(path)
		require.Error(t, err)
	})

	t.Run("empty clause rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		require.NoError(t, os.WriteFile(path, []byte("exercises:\n  lesson5:\n    - {}\n"), 0644))
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exercises rule for lesson5: clause 1 is empty")
	})
}

func TestEmptyRuleNeverMatches(t *testing.T) {
	assert.False(t, Rule{}.Matches("anything", "at all"))
	assert.True(t, Clause{}.Matches("", ""), "an empty clause is vacuously true")
}
