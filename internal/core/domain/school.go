package domain

type School struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	DistrictID         int64  `json:"district_id"`
	SubDistrictID      int64  `json:"sub_district_id"`
	ExpectedTableCount int    `json:"expected_table_count"`
}

// Table is a polling table (mesa). ID is stable; Number is reassigned by repairs.
type Table struct {
	ID       int64 `json:"id"`
	Number   int   `json:"number"`
	SchoolID int64 `json:"school_id"`
}
