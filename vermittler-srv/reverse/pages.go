package reverse

import (
	"bytes"
	"context"
	"io"
	"net/url"

	"github.com/a-h/templ"
)

const pageStyle = `body { font-family: Arial, sans-serif; margin: 40px; background-color: #f4f4f4; color: #333; }
        .container { background-color: #fff; padding: 20px; border-radius: 5px; }
        h1 { color: #d9534f; }`

// listingEntry is one link of a directory listing.
type listingEntry struct {
	Name string
	Href templ.SafeURL
}

func newListingEntry(name string) listingEntry {
	link := url.URL{Path: name}
	return listingEntry{Name: name, Href: templ.URL(link.String())}
}

// notFoundPage is the built-in 404 page.
func notFoundPage() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>404 Not Found</title>
    <style>
        `+pageStyle+`
    </style>
</head>
<body>
    <div class="container">
        <h1>404 Not Found</h1>
        <p>The requested resource could not be found on this server.</p>
    </div>
</body>
</html>`)
		return err
	})
}

// directoryListing renders the index of a static directory. parent adds a
// link to the enclosing directory.
func directoryListing(requestPath string, parent bool, entries []listingEntry) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		title := templ.EscapeString("Index of " + requestPath)
		var b bytes.Buffer
		b.WriteString("<!DOCTYPE html>\n<html>\n<head><meta charset=\"UTF-8\"><title>")
		b.WriteString(title)
		b.WriteString("</title></head>\n<body>\n<h1>")
		b.WriteString(title)
		b.WriteString("</h1>\n<ul>\n")
		if parent {
			b.WriteString("<li><a href=\"../\">../</a></li>\n")
		}
		for _, entry := range entries {
			b.WriteString("<li><a href=\"")
			b.WriteString(templ.EscapeString(string(entry.Href)))
			b.WriteString("\">")
			b.WriteString(templ.EscapeString(entry.Name))
			b.WriteString("</a></li>\n")
		}
		b.WriteString("</ul>\n</body>\n</html>\n")
		_, err := w.Write(b.Bytes())
		return err
	})
}

// renderPage renders c into memory so the length is known before the
// status line is written.
func renderPage(ctx context.Context, c templ.Component) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Render(ctx, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
