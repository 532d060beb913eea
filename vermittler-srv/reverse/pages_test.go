package reverse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryListingEscapesNames(t *testing.T) {
	entries := []listingEntry{
		newListingEntry(`<script>.txt`),
		newListingEntry("a b.txt"),
		newListingEntry("javascript:alert(1)"),
	}
	body, err := renderPage(context.Background(), directoryListing("/files/<x>/", true, entries))
	require.NoError(t, err)

	page := string(body)
	assert.Contains(t, page, "<title>Index of /files/&lt;x&gt;/</title>")
	assert.Contains(t, page, `<a href="../">../</a>`)
	assert.Contains(t, page, `<a href="%3Cscript%3E.txt">&lt;script&gt;.txt</a>`)
	assert.Contains(t, page, `<a href="a%20b.txt">a b.txt</a>`)
	assert.Contains(t, page, `<a href="./javascript:alert%281%29">javascript:alert(1)</a>`)
	assert.NotContains(t, page, "<script>")
}

func TestDirectoryListingAtRoot(t *testing.T) {
	body, err := renderPage(context.Background(), directoryListing("/", false, nil))
	require.NoError(t, err)
	assert.NotContains(t, string(body), `href="../"`)
}

func TestNotFoundPage(t *testing.T) {
	body, err := renderPage(context.Background(), notFoundPage())
	require.NoError(t, err)
	assert.Contains(t, string(body), "<title>404 Not Found</title>")
}
