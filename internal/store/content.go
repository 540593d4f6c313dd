// Package store persists and queries ingested instrument rows in PostgreSQL.
package store

// FileContent is one ingested CSV data row. The column names follow the B3
// instrument export fields verbatim. All fields are nullable and no
// uniqueness is enforced; re-ingesting a file simply adds rows again.
type FileContent struct {
	RptDt      *string `json:"RptDt"`
	TckrSymb   *string `json:"TckrSymb"`
	MktNm      *string `json:"MktNm"`
	SctyCtgyNm *string `json:"SctyCtgyNm"`
	ISIN       *string `json:"ISIN"`
	CrpnNm     *string `json:"CrpnNm"`
}

// contentColumns is the exhaustive projection from normalized CSV keys onto
// file_contents columns. Keys absent from a record map to NULL; keys in the
// record but not listed here are dropped.
var contentColumns = []string{"RptDt", "TckrSymb", "MktNm", "SctyCtgyNm", "ISIN", "CrpnNm"}

// ContentFilter holds the optional exact-match search filters. A nil field
// means the filter was not supplied.
type ContentFilter struct {
	TckrSymb *string
	RptDt    *string
}

// Empty reports whether no usable filter is present.
func (f ContentFilter) Empty() bool {
	return f.TckrSymb == nil && f.RptDt == nil
}

// Page is one page of search results with standard pagination metadata.
type Page struct {
	Items       []FileContent `json:"data"`
	Total       int64         `json:"total"`
	CurrentPage int           `json:"current_page"`
	PerPage     int           `json:"per_page"`
}
