package models

// These structs define the JSON payloads for the HTTP and CloudEvent
// function entry points.

// GCSEvent is the data of a storage "object finalized" CloudEvent.
type GCSEvent struct {
	Bucket   string            `json:"bucket"`
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ImportUnit is one pre-computed extraction result dropped into the import
// prefix. FileName is the page's storage path; when empty the key is rebuilt
// from DocumentName and PageIndex.
type ImportUnit struct {
	FileName     string   `json:"file_name,omitempty"`
	DocumentName string   `json:"document_name,omitempty"`
	PageIndex    int      `json:"page_index"`
	Words        []string `json:"bag_of_words"`
}

// ProcessRequest is the input for the page-ocr function.
type ProcessRequest struct {
	RetryFailed bool   `json:"retryFailed,omitempty"`
	ExecutionID string `json:"executionId,omitempty"`
}

// ProcessResponse is the output of the page-ocr function.
type ProcessResponse struct {
	Status    string `json:"status"`
	RunID     string `json:"runId"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Retried   int    `json:"retried,omitempty"`
}

// SearchRequest is the input for the page-search function.
type SearchRequest struct {
	Query        string `json:"query"`
	TopDocuments int    `json:"topDocuments,omitempty"`
	TopWords     int    `json:"topWords,omitempty"`
}

// WordMatch is one Stage-2 hit.
type WordMatch struct {
	Word  string `json:"word"`
	Score int    `json:"score"`
}

// SearchHit is one ranked page.
type SearchHit struct {
	FileName string      `json:"fileName"`
	Key      string      `json:"key"`
	Category Category    `json:"category"`
	Notes    string      `json:"notes,omitempty"`
	Score    int         `json:"score"`
	Matches  []WordMatch `json:"bestMatches"`
}

// SearchResponse is the output of the page-search function.
type SearchResponse struct {
	Query   string      `json:"query"`
	Results []SearchHit `json:"results"`
}

// ImportResponse is the output of the result-importer function.
type ImportResponse struct {
	Status     string `json:"status"`
	Total      int    `json:"total"`
	Imported   int    `json:"imported"`
	Mismatched int    `json:"mismatched"`
	Failed     int    `json:"failed"`
}
