package model

import "time"

// Page is a fetched HTML document.
type Page struct {
	URL   string `json:"url"`
	HTML  string `json:"html"`
	Depth int    `json:"depth"`
}

// Article is the readable content extracted from a page.
type Article struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// PageRecord is a page known to the page registry.
type PageRecord struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Chunks    int       `json:"chunks"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
