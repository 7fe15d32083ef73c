package epaper

import (
	"fmt"
	"strings"
	"time"
)

// PageKey is the composite identity of a stored page.
type PageKey struct {
	Publisher string
	Date      time.Time
	Page      int
	Ext       string
}

// String renders the blob key publisher/YYYY/MM/DD/NNN.ext.
func (k PageKey) String() string {
	return fmt.Sprintf("%s%03d.%s", DatePrefix(k.Publisher, k.Date), k.Page, strings.TrimPrefix(k.Ext, "."))
}

// DatePrefix is the key prefix shared by every page of one issue, trailing slash included.
func DatePrefix(publisher string, date time.Time) string {
	return fmt.Sprintf("%s/%04d/%02d/%02d/", publisher, date.Year(), int(date.Month()), date.Day())
}

// ListPrefix builds a hierarchical prefix from the optional year/month/day filters. Empty
// components stop the prefix at the previous level.
func ListPrefix(publisher string, year, month, day int) string {
	var b strings.Builder
	if publisher == "" {
		return ""
	}
	b.WriteString(publisher + "/")
	if year <= 0 {
		return b.String()
	}
	fmt.Fprintf(&b, "%04d/", year)
	if month <= 0 {
		return b.String()
	}
	fmt.Fprintf(&b, "%02d/", month)
	if day <= 0 {
		return b.String()
	}
	fmt.Fprintf(&b, "%02d/", day)
	return b.String()
}
