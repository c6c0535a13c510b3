package rewrite

import "regexp"

// import and runtime url patterns in javascript/typescript sources.
var (
	_from_import_re    = regexp.MustCompile(`(\bfrom\s*)(["'])([^"']*)(["'])`)
	_side_import_re    = regexp.MustCompile(`(\bimport\s*)(["'])([^"']*)(["'])`)
	_dynamic_import_re = regexp.MustCompile(`(\bimport\s*\(\s*)(["'])([^"']*)(["'])`)
	_fetch_re          = regexp.MustCompile(`(\bfetch\s*\(\s*)(["'])([^"']*)(["'])`)
	_new_url_re        = regexp.MustCompile(`(\bnew\s+URL\s*\(\s*)(["'])([^"']*)(["'])`)
	_source_map_re     = regexp.MustCompile(`(//#\s*sourceMappingURL=)(\S+)`)
)

// RewriteScript rewrites module specifiers and runtime url constructions
// in a javascript or typescript body.
func RewriteScript(src, prefix string) string {
	out := _rewrite_imports(src, prefix)

	for _, re := range []*regexp.Regexp{_fetch_re, _new_url_re} {
		out = _replace_submatch(re, out, func(g []string) string {
			return g[1] + g[2] + _apply_prefix(g[3], prefix) + g[4]
		})
	}

	out = _replace_submatch(_source_map_re, out, func(g []string) string {
		return g[1] + _apply_prefix(g[2], prefix)
	})
	return out
}

// _rewrite_imports rewrites static, side-effect and dynamic import
// targets. shared with inline <script type="module"> blocks in html.
func _rewrite_imports(src, prefix string) string {
	out := src
	for _, re := range []*regexp.Regexp{_from_import_re, _side_import_re, _dynamic_import_re} {
		out = _replace_submatch(re, out, func(g []string) string {
			return g[1] + g[2] + _apply_prefix(g[3], prefix) + g[4]
		})
	}
	return out
}
