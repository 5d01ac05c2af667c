package models

// Holiday is a computed or overridden non-working day. Date uses the
// profile-local "2006-01-02" form.
type Holiday struct {
	Date   string `json:"date"`
	Name   string `json:"name"`
	Region string `json:"region"`
}
