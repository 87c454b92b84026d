package task

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// TitleCase renders a status or priority value Unicode-correctly for
// CLI run-summary output, instead of the deprecated strings.Title.
func TitleCase(s string) string {
	return titleCaser.String(s)
}
