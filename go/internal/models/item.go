package models

// Item is a trivia question with one or more acceptable answers.
// Answer holds either plain text or a JSON array of synonyms.
type Item struct {
	ID         int64  `json:"id"`
	CategoryID int64  `json:"category_id"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	ImageURL   string `json:"image_url"`
	Source     string `json:"source,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
}

// Category groups items; ItemCount is filled on listing.
type Category struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ItemCount int    `json:"item_count"`
}
