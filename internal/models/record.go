package models

import "time"

// DefaultRecordLimit is the page size used when a filter sets no limit
const DefaultRecordLimit = 100

// RequestRecord is one entry of the request history
type RequestRecord struct {
	ID             string    `json:"id"`
	Method         string    `json:"method"`
	Path           string    `json:"path"` // Path including the query string
	StatusCode     int       `json:"statusCode"`
	BodyOrParams   string    `json:"bodyOrParams"`
	RequestHeaders string    `json:"requestHeaders"`
	ResponseBody   string    `json:"responseBody"`
	Timestamp      time.Time `json:"timestamp"`
}

// RecordFilter represents filters for querying request history
type RecordFilter struct {
	Method string `form:"method" json:"method,omitempty"`
	Search string `form:"search" json:"search,omitempty"` // Substring of the path
	Limit  int    `form:"limit" json:"limit,omitempty"`
	Offset int    `form:"offset" json:"offset,omitempty"`
}

// EffectiveLimit returns the limit to apply, defaulting to DefaultRecordLimit
func (f RecordFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultRecordLimit
	}
	return f.Limit
}
