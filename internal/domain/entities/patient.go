package entities

// Patient is the slice of the hospital patient record this service reads
type Patient struct {
	ID         string  `json:"id" db:"id"`
	FullName   string  `json:"full_name" db:"full_name"`
	CardNumber *string `json:"card_number,omitempty" db:"card_number"`
	NationalID *string `json:"national_id,omitempty" db:"national_id"`
}
