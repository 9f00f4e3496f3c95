package site

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Site renders crawler documents for the public pages under BaseURL.
type Site struct {
	BaseURL string
	Pages   []string
	// Disallow lists path prefixes crawlers must skip.
	Disallow []string
	Modified time.Time
}

func (s Site) base() string {
	return strings.TrimRight(s.BaseURL, "/")
}

// Robots renders robots.txt.
func (s Site) Robots() string {
	var b strings.Builder
	b.WriteString("User-agent: *\n")
	for _, p := range s.Disallow {
		fmt.Fprintf(&b, "Disallow: %s\n", p)
	}
	if len(s.Disallow) == 0 {
		b.WriteString("Allow: /\n")
	}
	fmt.Fprintf(&b, "\nSitemap: %s/sitemap.xml\n", s.base())
	return b.String()
}

type urlset struct {
	XMLName xml.Name   `xml:"urlset"`
	XMLNS   string     `xml:"xmlns,attr"`
	URLs    []urlEntry `xml:"url"`
}

type urlEntry struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// Sitemap renders sitemap.xml.
func (s Site) Sitemap() ([]byte, error) {
	if _, err := url.ParseRequestURI(s.base()); err != nil {
		return nil, fmt.Errorf("site url: %w", err)
	}
	set := urlset{XMLNS: "http://www.sitemaps.org/schemas/sitemap/0.9"}
	lastmod := ""
	if !s.Modified.IsZero() {
		lastmod = s.Modified.UTC().Format("2006-01-02")
	}
	for _, p := range s.Pages {
		set.URLs = append(set.URLs, urlEntry{Loc: s.base() + p, LastMod: lastmod})
	}
	out, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}
