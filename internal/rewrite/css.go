package rewrite

import "regexp"

var (
	_css_url_re    = regexp.MustCompile(`(url\(\s*)(["']?)([^"')\s]+)(["']?\s*\))`)
	_css_import_re = regexp.MustCompile(`(@import\s+)(["'])([^"']+)(["'])`)
)

// RewriteCSS rewrites url(...) references and string-form @import rules.
// @import url(...) is covered by the url pass.
func RewriteCSS(src, prefix string) string {
	out := _replace_submatch(_css_url_re, src, func(g []string) string {
		return g[1] + g[2] + _apply_prefix(g[3], prefix) + g[4]
	})
	out = _replace_submatch(_css_import_re, out, func(g []string) string {
		return g[1] + g[2] + _apply_prefix(g[3], prefix) + g[4]
	})
	return out
}
