package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultProtocol    ResultType = "protocol"
	ResultOrder       ResultType = "order"
	ResultReliability ResultType = "reliability"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ProtocolRecord is the data we index for a meeting protocol.
type ProtocolRecord struct {
	ID   string `json:"id"`
	Num  string `json:"num"`
	Name string `json:"name"`
	Body string `json:"body"`
}

// OrderRecord is the data we index for an order.
type OrderRecord struct {
	ID   string `json:"id"`
	Num  string `json:"num"`
	Body string `json:"body"`
}

// ReliabilityRecord is the data we index for a reliability measure.
type ReliabilityRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Note string `json:"note"`
}
