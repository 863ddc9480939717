package pesantren

import "time"

// About is the editable "about us" page content.
type About struct {
	Title       string       `json:"title"`
	Subtitle    string       `json:"subtitle,omitempty"`
	Description string       `json:"description"`
	Vision      string       `json:"vision,omitempty"`
	Mission     []string     `json:"mission,omitempty"`
	History     string       `json:"history,omitempty"`
	Values      []CoreValue  `json:"values,omitempty"`
	Team        []TeamMember `json:"team,omitempty"`
	Contact     Contact      `json:"contact"`
	UpdatedAt   time.Time    `json:"updated_at,omitzero"`
}

// CoreValue is a single value statement on the about page.
type CoreValue struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// TeamMember is a person listed on the about page.
type TeamMember struct {
	Name     string `json:"name"`
	Role     string `json:"role"`
	Bio      string `json:"bio,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Contact holds the organisation's contact details.
type Contact struct {
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}
