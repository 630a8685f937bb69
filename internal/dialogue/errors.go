package dialogue

import (
	"fmt"
	"html"
	"strings"
)

// ValidationError is a rejected user input. It is shown to the user and never
// changes stored data.
type ValidationError struct {
	Field   Field
	Input   string
	Message string
	Options []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Input, e.Message)
}

// UserMessage renders the error as chat HTML, listing valid options if known.
func (e *ValidationError) UserMessage() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Options) > 0 {
		b.WriteString("\nValid options: ")
		b.WriteString(strings.Join(e.Options, ", "))
	}
	return html.EscapeString(b.String())
}
