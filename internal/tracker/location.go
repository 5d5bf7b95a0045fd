package tracker

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	// DefaultModule is used when the path names no course folder
	DefaultModule = "basics"
	// DefaultLesson is used when neither path nor fragment names a lesson
	DefaultLesson = "lesson1"
)

var (
	modulePattern = regexp.MustCompile(`courses/([^/]+)`)
	lessonPattern = regexp.MustCompile(`(?i)(lesson|module)(\d+)`)
	hrefPattern   = regexp.MustCompile(`(?i)(lesson\d+)`)
)

// Location is the part of a page URL the tracker keys progress on
type Location struct {
	Path     string
	Fragment string
}

// ParseLocation splits a page URL or bare path into a Location
func ParseLocation(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("invalid page url %q: %w", raw, err)
	}
	return Location{Path: u.Path, Fragment: u.Fragment}, nil
}

// IsCoursePage reports whether the location is inside the courses tree
func (l Location) IsCoursePage() bool {
	return strings.Contains(l.Path, "/courses/")
}

// ModuleID returns the course folder named in the path
func (l Location) ModuleID() string {
	if m := modulePattern.FindStringSubmatch(l.Path); m != nil {
		return m[1]
	}
	return DefaultModule
}

// LessonID returns the lessonN or moduleN segment of the path, lower-cased,
// falling back to the fragment and then to the first lesson.
func (l Location) LessonID() string {
	if m := lessonPattern.FindString(l.Path); m != "" {
		return strings.ToLower(m)
	}
	if frag := strings.TrimPrefix(l.Fragment, "#"); frag != "" {
		return frag
	}
	return DefaultLesson
}

// LessonIDFromHref extracts the lesson id a sidebar link points to, or ""
func LessonIDFromHref(href string) string {
	if m := hrefPattern.FindStringSubmatch(href); m != nil {
		return strings.ToLower(m[1])
	}
	return ""
}
