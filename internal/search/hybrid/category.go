package hybrid

import "github.com/Aman-CERP/amanmcp/internal/scanner"

// categoryForPath classifies a path as "code" or "doc" for
// fusionkernel.CategoryFilter, reusing the scanner's extension-based
// language and content-type detection rather than duplicating it.
func categoryForPath(path string) string {
	lang := scanner.DetectLanguage(path)
	if lang == "" {
		return "doc"
	}
	switch scanner.DetectContentType(lang) {
	case scanner.ContentTypeCode:
		return "code"
	default:
		return "doc"
	}
}
