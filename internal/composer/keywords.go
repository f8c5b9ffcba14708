package composer

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// resumeKeywords trigger résumé inclusion when any appears in the normalized
// message. Matching is by substring, so "projects" matches "project".
var resumeKeywords = []string{
	// English
	"resume", "cv", "job", "project", "experience",
	"certification", "certifications", "education", "career", "work history",
	// Chinese
	"简历", "经历", "工作经验", "教育背景", "项目经验", "认证",
	// Spanish
	"currículum", "trabajo", "proyecto", "experiencia", "certificación", "educación", "carrera",
}

// Keywords returns a copy of the résumé trigger list.
func Keywords() []string {
	out := make([]string, len(resumeKeywords))
	copy(out, resumeKeywords)
	return out
}

// Normalize lower-cases s and drops every rune that is not a letter, mark,
// digit, underscore or whitespace. Input is NFC-composed first so accented
// keywords match regardless of how they were typed.
func Normalize(s string) string {
	s = strings.ToLower(norm.NFC.String(s))
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsMark(r), unicode.IsDigit(r), r == '_', unicode.IsSpace(r):
			return r
		default:
			return -1
		}
	}, s)
}

// IncludeResume reports whether message mentions any résumé keyword.
func IncludeResume(message string) bool {
	cleaned := Normalize(message)
	if cleaned == "" {
		return false
	}
	for _, k := range resumeKeywords {
		if strings.Contains(cleaned, k) {
			return true
		}
	}
	return false
}
