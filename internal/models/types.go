
package models

// SubjectStub is one row of a search-results page.
type SubjectStub struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Href    string `json:"href,omitempty"`
	Offered string `json:"offered"`
}

// AssessmentTable keeps header labels positionally; each row maps label to cell text.
type AssessmentTable struct {
	Columns []string            `json:"columns"`
	Rows    []map[string]string `json:"rows"`
}

type Assessment struct {
	Tables []AssessmentTable `json:"tables"`
}

type RecordSource struct {
	SubjectURL    string `json:"subjectUrl"`
	AssessmentURL string `json:"assessmentUrl"`
}

type SubjectRecord struct {
	Code             string       `json:"code"`
	Name             string       `json:"name"`
	Year             int          `json:"year"`
	StudyPeriod      string       `json:"studyPeriod"`
	CreditPoints     *float64     `json:"creditPoints"`
	Overview         []string     `json:"overview"`
	Assessment       Assessment   `json:"assessment"`
	InstructorEmails []string     `json:"instructorEmails"`
	Availability     string       `json:"availability"`
	Source           RecordSource `json:"source"`
}

type SnapshotSource struct {
	SearchURL   string `json:"searchUrl"`
	StudyPeriod string `json:"studyPeriod"`
	Year        int    `json:"year"`
}

type Stats struct {
	TotalFound int `json:"totalFound"`
	TotalSaved int `json:"totalSaved"`
	Skipped    int `json:"skipped"`
}

// Snapshot is the artifact written once per crawl. Version is derived from Items only.
type Snapshot struct {
	GeneratedAt string          `json:"generatedAt"`
	Version     string          `json:"version"`
	Source      SnapshotSource  `json:"source"`
	Stats       Stats           `json:"stats"`
	Items       []SubjectRecord `json:"items"`
}
