package rewrite

import "regexp"

// url-bearing attributes rewritten in html bodies.
var (
	_attr_dq_re = regexp.MustCompile(`(?i)\b(src|href|action|srcset|data-src|content)(\s*=\s*)"([^"]*)"`)
	_attr_sq_re = regexp.MustCompile(`(?i)\b(src|href|action|srcset|data-src|content)(\s*=\s*)'([^']*)'`)

	_module_script_re = regexp.MustCompile(`(?is)(<script[^>]*\btype\s*=\s*["']module["'][^>]*>)(.*?)(</script>)`)

	_head_open_re = regexp.MustCompile(`(?i)<head[^>]*>`)
	_html_open_re = regexp.MustCompile(`(?i)<html[^>]*>`)
)

// RewriteHTML rewrites url-bearing attributes, inline-style url(...)
// occurrences and inline module scripts, then injects the runtime shim as
// the first child of <head>.
func RewriteHTML(src, prefix string) string {
	out := _replace_submatch(_attr_dq_re, src, func(g []string) string {
		return g[1] + g[2] + `"` + _apply_prefix(g[3], prefix) + `"`
	})
	out = _replace_submatch(_attr_sq_re, out, func(g []string) string {
		return g[1] + g[2] + `'` + _apply_prefix(g[3], prefix) + `'`
	})

	// inline styles use the same url(...) syntax as stylesheets
	out = _replace_submatch(_css_url_re, out, func(g []string) string {
		return g[1] + g[2] + _apply_prefix(g[3], prefix) + g[4]
	})

	out = _replace_submatch(_module_script_re, out, func(g []string) string {
		return g[1] + _rewrite_imports(g[2], prefix) + g[3]
	})

	return _inject_shim(out, prefix)
}

// _inject_shim places the runtime shim at the start of <head>,
// synthesising the element when the document lacks one. injection is
// idempotent via the shim marker.
func _inject_shim(src, prefix string) string {
	if _has_shim(src) {
		return src
	}
	shim := Shim(prefix)

	if loc := _head_open_re.FindStringIndex(src); loc != nil {
		return src[:loc[1]] + shim + src[loc[1]:]
	}
	if loc := _html_open_re.FindStringIndex(src); loc != nil {
		return src[:loc[1]] + "<head>" + shim + "</head>" + src[loc[1]:]
	}
	return shim + src
}
