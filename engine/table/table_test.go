package table

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/WessleyAI/threadwatch/engine/domain"
)

func TestReadURLs(t *testing.T) {
	in := "id,URL,note\n1,https://example.com/post/a,first\n2,  ,blank\n3,https://example.com/post/b\n"
	urls, err := ReadURLs(strings.NewReader(in), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(urls) != 2 || urls[0] != "https://example.com/post/a" || urls[1] != "https://example.com/post/b" {
		t.Fatalf("unexpected urls %v", urls)
	}
}

func TestReadURLs_CustomColumnAndBOM(t *testing.T) {
	in := "\ufeffLink\nhttps://example.com/post/a\n"
	urls, err := ReadURLs(strings.NewReader(in), "link")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(urls) != 1 {
		t.Fatalf("unexpected urls %v", urls)
	}
}

func TestReadURLs_MissingColumn(t *testing.T) {
	for name, in := range map[string]string{
		"no column": "id,title\n1,x\n",
		"empty":     "",
	} {
		if _, err := ReadURLs(strings.NewReader(in), "url"); !errors.Is(err, domain.ErrNoURLColumn) {
			t.Errorf("%s: expected ErrNoURLColumn, got %v", name, err)
		}
	}
}

func TestReadURLs_Unreadable(t *testing.T) {
	_, err := ReadURLs(strings.NewReader("url\n\"unterminated\n"), "url")
	if err == nil || errors.Is(err, domain.ErrNoURLColumn) {
		t.Fatalf("expected a parse error, got %v", err)
	}
}

func TestWriteRows(t *testing.T) {
	carol := "carol(NO)"
	rows := []domain.Row{
		{Parent: "alice(NO)", Children: make([]*string, 3), URL: "https://example.com/post/abc"},
		{Parent: "bob(YES)", Children: []*string{&carol, nil, nil}, URL: "https://example.com/post/abc"},
		{Parent: "Error: http 503, retry later", Children: make([]*string, 3), URL: "https://example.com/post/x"},
	}
	var buf bytes.Buffer
	if err := WriteRows(&buf, rows, WriteOpts{IncludeURL: true, Replies: 3}); err != nil {
		t.Fatalf("WriteRows: %v", err)
	}
	want := "Parent,Child1,Child2,Child3,URL\n" +
		"alice(NO),,,,https://example.com/post/abc\n" +
		"bob(YES),carol(NO),,,https://example.com/post/abc\n" +
		"\"Error: http 503, retry later\",,,,https://example.com/post/x\n"
	if buf.String() != want {
		t.Fatalf("unexpected output:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestWriteRows_WithoutURL(t *testing.T) {
	var buf bytes.Buffer
	rows := []domain.Row{{Parent: domain.NoCommentsText, Children: make([]*string, 2), URL: "u"}}
	if err := WriteRows(&buf, rows, WriteOpts{Replies: 2}); err != nil {
		t.Fatalf("WriteRows: %v", err)
	}
	if buf.String() != "Parent,Child1,Child2\nNo comments found,,\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
