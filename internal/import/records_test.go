package importbatch

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"

	"reddot-watch/newsbatch/internal/batch"
	"reddot-watch/newsbatch/internal/models"
)

func TestDecodeCSV(t *testing.T) {
	input := "\ufeffTitle,URL,Published_At,Section\n" +
		"Rates hold,https://e.com/a?utm_source=x,2025-03-01T09:00:00+08:00,markets\n" +
		",,,\n" +
		"\"Quoted, title\",,,world\n"

	recs, err := DecodeCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, []models.Record{
		{
			"title":        "Rates hold",
			"url":          "https://e.com/a?utm_source=x",
			"published_at": "2025-03-01T09:00:00+08:00",
			"Section":      "markets",
		},
		{"title": "Quoted, title", "Section": "world"},
	}, recs)
}

func TestDecodeCSVRequiresIdentityColumn(t *testing.T) {
	_, err := DecodeCSV(strings.NewReader("summary,source\nx,y\n"))
	require.ErrorIs(t, err, batch.ErrMalformedBatch)

	_, err = DecodeCSV(strings.NewReader(""))
	require.ErrorIs(t, err, batch.ErrMalformedBatch)
}

func TestDecodeCSVSkipsUnparsableRows(t *testing.T) {
	input := "url,title\n" +
		"http://a,ok\n" +
		"http://b,bad\"quote\n" +
		"http://c,fine\n"

	recs, err := DecodeCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, []models.Record{
		{"url": "http://a", "title": "ok"},
		{"url": "http://c", "title": "fine"},
	}, recs)
}

func TestDecodeCSVReadErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	r := io.MultiReader(strings.NewReader("url\nhttp://a\n"), iotest.ErrReader(boom))

	_, err := DecodeCSV(r)
	require.ErrorIs(t, err, boom)
}
