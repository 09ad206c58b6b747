package domain

import "time"

// ErrorPattern maps failure signatures to a category.
type ErrorPattern struct {
	ID          string    `json:"id"          db:"id"`
	Category    Category  `json:"category"    db:"category"`
	StatusCodes []int     `json:"status_codes,omitempty"`
	Codes       []string  `json:"codes,omitempty"`
	Keywords    []string  `json:"keywords,omitempty"`
	Confidence  float64   `json:"confidence"  db:"confidence"`
	Builtin     bool      `json:"builtin"`
	CreatedAt   time.Time `json:"created_at"  db:"created_at"`
}
