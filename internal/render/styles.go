package render

import (
	"fmt"
	"strings"

	"github.com/pageturn/pageturn/pkg/types"
)

type themeColors struct {
	background string
	foreground string
	link       string
	highlight  string
}

var themes = map[string]themeColors{
	"light": {background: "#ffffff", foreground: "#1a1a1a", link: "#1a66cc", highlight: "rgba(255, 235, 59, 0.45)"},
	"dark":  {background: "#121212", foreground: "#d4d4d4", link: "#6aa5ff", highlight: "rgba(255, 235, 59, 0.30)"},
	"sepia": {background: "#f4ecd8", foreground: "#4b3b2a", link: "#9a6b2f", highlight: "rgba(255, 213, 79, 0.45)"},
}

// StyleSheet generates the single style block that enforces the user's
// typography over anything the document embeds. Every declaration is
// !important: the namespace class plus importance beats EPUB inline
// styles without touching individual elements. Regenerated whole on
// every settings change.
func StyleSheet(s types.ReaderSettings) string {
	s.Clamp()
	colors := themes[s.Theme]

	var b strings.Builder

	fmt.Fprintf(&b, ".%s {\n", NamespaceClass)
	fmt.Fprintf(&b, "  font-family: %s !important;\n", s.FontFamily)
	fmt.Fprintf(&b, "  font-size: %dpx !important;\n", s.FontSize)
	fmt.Fprintf(&b, "  line-height: %.2f !important;\n", s.LineHeight)
	fmt.Fprintf(&b, "  padding: 0 %dpx !important;\n", s.Margins)
	fmt.Fprintf(&b, "  text-align: %s !important;\n", s.TextAlign)
	fmt.Fprintf(&b, "  max-width: %d%% !important;\n", s.ContentWidth)
	fmt.Fprintf(&b, "  margin: 0 auto !important;\n")
	fmt.Fprintf(&b, "  background-color: %s !important;\n", colors.background)
	fmt.Fprintf(&b, "  color: %s !important;\n", colors.foreground)
	b.WriteString("}\n")

	fmt.Fprintf(&b, ".%s * {\n", NamespaceClass)
	fmt.Fprintf(&b, "  font-family: inherit !important;\n")
	fmt.Fprintf(&b, "  line-height: inherit !important;\n")
	fmt.Fprintf(&b, "  color: inherit !important;\n")
	fmt.Fprintf(&b, "  background-color: transparent !important;\n")
	b.WriteString("}\n")

	fmt.Fprintf(&b, ".%s a { color: %s !important; }\n", NamespaceClass, colors.link)
	fmt.Fprintf(&b, ".%s img { max-width: 100%% !important; height: auto !important; }\n", NamespaceClass)
	fmt.Fprintf(&b, ".%s .pt-highlight { background-color: %s !important; }\n", NamespaceClass, colors.highlight)

	return b.String()
}
