package model

// SearchCriteria filters settlement search queries. Empty fields are not
// applied. Date bounds are inclusive and use DateLayout.
type SearchCriteria struct {
	PTS              string
	ProcessingEntity string
	CounterpartyID   string
	ValueDateFrom    string
	ValueDateTo      string
	Direction        string
	BusinessStatus   string
	Limit            int
	Offset           int
}

// GroupFilter narrows group enumeration. Empty fields match everything.
type GroupFilter struct {
	PTS              string `json:"pts"`
	ProcessingEntity string `json:"processingEntity"`
	CounterpartyID   string `json:"counterpartyId"`
	ValueDate        string `json:"valueDate"`
}
