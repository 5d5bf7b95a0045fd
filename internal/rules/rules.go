// Package rules decides whether submitted code completes a lesson. Rules are
// data: a lesson maps to a list of clauses, any of which may match, and a
// clause matches when every listed substring is present.
package rules

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Clause requires every Code substring in the submitted code and every
// Output substring in the program output.
type Clause struct {
	Code   []string `yaml:"code,omitempty"`
	Output []string `yaml:"output,omitempty"`
}

// Matches reports whether the clause holds for code and output
func (c Clause) Matches(code, output string) bool {
	for _, s := range c.Code {
		if !strings.Contains(code, s) {
			return false
		}
	}
	for _, s := range c.Output {
		if !strings.Contains(output, s) {
			return false
		}
	}
	return true
}

// Rule is satisfied when any of its clauses matches
type Rule []Clause

// Matches reports whether any clause holds. An empty rule never matches.
func (r Rule) Matches(code, output string) bool {
	for _, c := range r {
		if c.Matches(code, output) {
			return true
		}
	}
	return false
}

// Table maps lesson ids to rules
type Table map[string]Rule

// Rules holds the two tables used by the tracker
type Rules struct {
	// Completion rules are checked on successful code execution
	Completion Table `yaml:"completion"`
	// Exercises validate solutions submitted with the check button
	Exercises Table `yaml:"exercises"`
}

// Default returns the built-in rules
func Default() *Rules {
	return &Rules{
		Completion: Table{
			"lesson1": {{Code: []string{"print"}, Output: []string{"Hello"}}},
			"lesson2": {{Code: []string{"def ", "return"}}},
			"lesson3": {{Code: []string{"if ", "else"}}},
		},
		Exercises: Table{
			"lesson1": {
				{Code: []string{"print", `"`}},
				{Code: []string{"'"}},
			},
			"lesson2": {{Code: []string{"def ", "return"}}},
			"lesson3": {{Code: []string{"if ", "else"}}},
		},
	}
}

// Load reads rules from a YAML file on top of the defaults. Lessons listed in
// the file replace the built-in rule for that lesson; other lessons keep
// theirs. An empty path returns the defaults.
func Load(path string) (*Rules, error) {
	r := Default()
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate rejects clauses without any substring, which would match every
// submission.
func (r *Rules) Validate() error {
	for name, table := range map[string]Table{"completion": r.Completion, "exercises": r.Exercises} {
		for _, lesson := range table.Lessons() {
			for i, c := range table[lesson] {
				if len(c.Code) == 0 && len(c.Output) == 0 {
					return fmt.Errorf("%s rule for %s: clause %d is empty", name, lesson, i+1)
				}
			}
		}
	}
	return nil
}

// MeetsCompletion reports whether a successful run of code with output
// completes lesson. Lessons without a rule are never completed this way.
func (r *Rules) MeetsCompletion(lesson, code, output string) bool {
	rule, ok := r.Completion[lesson]
	if !ok {
		return false
	}
	return rule.Matches(code, output)
}

// ValidateExercise reports whether code solves the exercise of lesson.
// Lessons without a validator accept any solution.
func (r *Rules) ValidateExercise(lesson, code string) bool {
	rule, ok := r.Exercises[lesson]
	if !ok {
		return true
	}
	return rule.Matches(code, "")
}

// Lessons returns the lesson ids of the table in order
func (t Table) Lessons() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
