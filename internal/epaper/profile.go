package epaper

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Strategy selects how a publisher's issue is located.
type Strategy string

// Supported locate strategies.
const (
	StrategyIndex Strategy = "index"
	StrategyProbe Strategy = "probe"
)

// ProbeFormat is one candidate URL shape for sequentially probed pages. URLTemplate may contain
// {date} (formatted with DateLayout) and {page} (zero padded to the profile's width).
type ProbeFormat struct {
	Name        string
	Kind        ArtifactKind
	URLTemplate string
	DateLayout  string
}

// Profile captures everything publisher-specific about locating and naming pages.
type Profile struct {
	Name     string
	Strategy Strategy

	// index strategy
	IndexURLTemplate string
	IndexDateLayout  string
	LinkSelector     string
	LinkAttr         string
	PagesPerArtifact int

	// probe strategy
	Formats         []ProbeFormat
	MaxPages        int
	PageNumberWidth int

	WeekdaysOnly bool
	Ext          string
}

// Validate ensures the profile can drive a run.
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("publisher name is required")
	}
	if strings.ContainsAny(p.Name, "/\\ ") {
		return fmt.Errorf("publisher name %q must not contain separators or spaces", p.Name)
	}
	if p.Ext == "" {
		return fmt.Errorf("publisher %s: output extension is required", p.Name)
	}
	switch p.Strategy {
	case StrategyIndex:
		if !strings.Contains(p.IndexURLTemplate, "{date}") {
			return fmt.Errorf("publisher %s: index url template must contain {date}", p.Name)
		}
		if p.IndexDateLayout == "" || p.LinkSelector == "" || p.LinkAttr == "" {
			return fmt.Errorf("publisher %s: index layout, selector and attribute are required", p.Name)
		}
	case StrategyProbe:
		if len(p.Formats) == 0 {
			return fmt.Errorf("publisher %s: at least one probe format is required", p.Name)
		}
		for _, f := range p.Formats {
			if !strings.Contains(f.URLTemplate, "{page}") {
				return fmt.Errorf("publisher %s: probe template %q must contain {page}", p.Name, f.URLTemplate)
			}
			if f.Kind != ArtifactPDF && f.Kind != ArtifactImage {
				return fmt.Errorf("publisher %s: probe format %q has unknown kind %q", p.Name, f.Name, f.Kind)
			}
		}
		if p.MaxPages <= 0 {
			return fmt.Errorf("publisher %s: max pages must be > 0", p.Name)
		}
	default:
		return fmt.Errorf("publisher %s: unknown strategy %q", p.Name, p.Strategy)
	}
	return nil
}

// IndexURL returns the index page URL for date.
func (p Profile) IndexURL(date time.Time) string {
	return strings.ReplaceAll(p.IndexURLTemplate, "{date}", date.Format(p.IndexDateLayout))
}

// PageURL returns the probe URL of page n for date in format f.
func (p Profile) PageURL(f ProbeFormat, date time.Time, n int) string {
	page := strconv.Itoa(n)
	if p.PageNumberWidth > 0 {
		page = fmt.Sprintf("%0*d", p.PageNumberWidth, n)
	}
	layout := f.DateLayout
	if layout == "" {
		layout = time.DateOnly
	}
	return strings.NewReplacer("{date}", date.Format(layout), "{page}", page).Replace(f.URLTemplate)
}

// Built-in publisher profiles.
var (
	TaKungPao = Profile{
		Name:             "TaKungPao",
		Strategy:         StrategyIndex,
		IndexURLTemplate: "http://www.takungpao.com.hk/paper/{date}.html",
		IndexDateLayout:  "20060102",
		LinkSelector:     "img[downloadurl]",
		LinkAttr:         "downloadurl",
		PagesPerArtifact: 1,
		Ext:              "jpg",
	}

	AM730 = Profile{
		Name:     "am730",
		Strategy: StrategyProbe,
		Formats: []ProbeFormat{
			{
				Name:        "pdf",
				Kind:        ArtifactPDF,
				URLTemplate: "https://flippingbook.am730.com.hk/daily-news/{date}/files/assets/common/downloads/page{page}.pdf",
				DateLayout:  "2006-01-02",
			},
			{
				Name:        "jpg",
				Kind:        ArtifactImage,
				URLTemplate: "https://flippingbook.am730.com.hk/daily-news/{date}/files/assets/common/page-html5-substrates/page{page}_3.jpg",
				DateLayout:  "2006-01-02",
			},
			{
				Name:        "jpg-dmy",
				Kind:        ArtifactImage,
				URLTemplate: "https://flippingbook.am730.com.hk/daily-news/{date}/files/assets/common/page-html5-substrates/page{page}_3.jpg",
				DateLayout:  "02_01_2006",
			},
		},
		MaxPages:        200,
		PageNumberWidth: 4,
		WeekdaysOnly:    true,
		Ext:             "jpeg",
	}
)

var builtin = map[string]Profile{
	strings.ToLower(TaKungPao.Name): TaKungPao,
	strings.ToLower(AM730.Name):     AM730,
}

// LookupProfile returns a copy of the built-in profile with the given case-insensitive name.
func LookupProfile(name string) (Profile, bool) {
	p, ok := builtin[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Profile{}, false
	}
	p.Formats = append([]ProbeFormat(nil), p.Formats...)
	return p, true
}

// Profiles returns every built-in profile sorted by name.
func Profiles() []Profile {
	out := make([]Profile, 0, len(builtin))
	for name := range builtin {
		p, _ := LookupProfile(name)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out
}
