// Package pesantren defines the boarding-school directory records served by
// the backend and the predicates used to filter them.
package pesantren

import "time"

// Fees holds the cost structure of a pesantren in rupiah.
type Fees struct {
	Monthly      int64  `json:"monthly" yaml:"monthly"`
	Registration int64  `json:"registration" yaml:"registration"`
	Other        *int64 `json:"other,omitempty" yaml:"other,omitempty"`
}

// Pesantren is a boarding-school listing. Records are owned by the backend;
// the client never mutates one in place.
type Pesantren struct {
	ID           string    `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	Location     string    `json:"location" yaml:"location"`
	Province     string    `json:"province,omitempty" yaml:"province,omitempty"`
	Description  string    `json:"description,omitempty" yaml:"description,omitempty"`
	ImageURL     string    `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	Rating       float64   `json:"rating" yaml:"rating"`
	StudentCount int       `json:"student_count" yaml:"student_count"`
	Programs     []string  `json:"programs" yaml:"programs"`
	Facilities   []string  `json:"facilities" yaml:"facilities"`
	Fees         Fees      `json:"fees" yaml:"fees"`
	Featured     bool      `json:"is_featured,omitempty" yaml:"featured,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitzero" yaml:"updated_at,omitempty"`
}

// Clone returns a deep copy so callers can patch without aliasing slices.
func (p Pesantren) Clone() Pesantren {
	c := p
	c.Programs = append([]string(nil), p.Programs...)
	c.Facilities = append([]string(nil), p.Facilities...)
	if p.Fees.Other != nil {
		other := *p.Fees.Other
		c.Fees.Other = &other
	}
	return c
}

// Pagination describes where a page sits in the full result set.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// Page is one page of listing results.
type Page struct {
	Items      []Pesantren `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// IndexOf returns the position of id in the page, or -1.
func (p Page) IndexOf(id string) int {
	for i := range p.Items {
		if p.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// Stats summarizes the directory for the landing page.
type Stats struct {
	TotalPesantren int     `json:"total_pesantren"`
	TotalStudents  int     `json:"total_students"`
	TotalPrograms  int     `json:"total_programs"`
	TotalProvinces int     `json:"total_provinces"`
	AverageRating  float64 `json:"average_rating"`
}
