package pesantren

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Name         *string   `json:"name,omitempty"`
	Location     *string   `json:"location,omitempty"`
	Province     *string   `json:"province,omitempty"`
	Description  *string   `json:"description,omitempty"`
	ImageURL     *string   `json:"image_url,omitempty"`
	Rating       *float64  `json:"rating,omitempty"`
	StudentCount *int      `json:"student_count,omitempty"`
	Programs     *[]string `json:"programs,omitempty"`
	Facilities   *[]string `json:"facilities,omitempty"`
	Fees         *Fees     `json:"fees,omitempty"`
	Featured     *bool     `json:"is_featured,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return p == Patch{}
}

// Apply returns a copy of target with the patch applied.
func (p Patch) Apply(target Pesantren) Pesantren {
	out := target.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Location != nil {
		out.Location = *p.Location
	}
	if p.Province != nil {
		out.Province = *p.Province
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.ImageURL != nil {
		out.ImageURL = *p.ImageURL
	}
	if p.Rating != nil {
		out.Rating = *p.Rating
	}
	if p.StudentCount != nil {
		out.StudentCount = *p.StudentCount
	}
	if p.Programs != nil {
		out.Programs = append([]string(nil), (*p.Programs)...)
	}
	if p.Facilities != nil {
		out.Facilities = append([]string(nil), (*p.Facilities)...)
	}
	if p.Fees != nil {
		fees := *p.Fees
		if fees.Other != nil {
			other := *fees.Other
			fees.Other = &other
		}
		out.Fees = fees
	}
	if p.Featured != nil {
		out.Featured = *p.Featured
	}
	return out
}

// Ptr returns a pointer to v. It keeps patch literals short.
func Ptr[T any](v T) *T {
	return &v
}
