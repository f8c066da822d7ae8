// Package model defines the domain types shared across the order-intake pipeline.
package model

// Category is the classified intent of an incoming email.
type Category string

const (
	CategoryOrder   Category = "order"
	CategoryInquiry Category = "inquiry"
)

// AllCategories returns the fixed label set the classifier may emit.
func AllCategories() []Category {
	return []Category{CategoryOrder, CategoryInquiry}
}

// Email is an incoming customer email. Immutable once ingested.
type Email struct {
	ID      string `json:"email_id"`
	Subject string `json:"subject"`
	Body    string `json:"message"`
}

// Text returns the subject and body joined the way retrieval and
// extraction queries expect them.
func (e Email) Text() string {
	return "Subject: " + e.Subject + "\nMessage: " + e.Body
}

// Classification is the persisted intent record for one email.
type Classification struct {
	EmailID  string   `json:"email_id"`
	Category Category `json:"category"`
}
