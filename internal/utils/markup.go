package utils

import (
	"bytes"
	"io"

	"golang.org/x/net/html"
)

// StripMarkup removes XML/HTML tags from data. Text split only by tags is
// joined back together; attribute values and comments become separate
// space-delimited fields so they cannot run into each other. Attribute values
// are kept because flags are often hidden in alt/title/value attributes.
// Returns data unchanged when it holds no tags.
func StripMarkup(data []byte) []byte {
	if bytes.IndexByte(data, '<') < 0 {
		return data
	}

	var out bytes.Buffer
	field := func(b []byte) {
		if n := out.Len(); n > 0 && out.Bytes()[n-1] != ' ' {
			out.WriteByte(' ')
		}
		out.Write(b)
		out.WriteByte(' ')
	}
	z := html.NewTokenizer(bytes.NewReader(data))
	sawTag := false
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() != io.EOF || !sawTag {
				return data
			}
			return bytes.TrimSpace(out.Bytes())
		case html.TextToken:
			out.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			sawTag = true
			for {
				_, val, more := z.TagAttr()
				if len(val) > 0 {
					field(val)
				}
				if !more {
					break
				}
			}
		case html.EndTagToken, html.CommentToken, html.DoctypeToken:
			sawTag = true
			if tt == html.CommentToken {
				if text := bytes.TrimSpace(z.Text()); len(text) > 0 {
					field(text)
				}
			}
		}
	}
}
