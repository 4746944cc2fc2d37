package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxProtocols   = "reportdesk_protocols"
	idxOrders      = "reportdesk_orders"
	idxReliability = "reportdesk_reliability"
)

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes.
// The caller should proceed without it if the instance never comes up;
// the health loop will pick it up later.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		searchable []string
	}{
		{uid: idxProtocols, searchable: []string{"num", "name", "body"}},
		{uid: idxOrders, searchable: []string{"num", "body"}},
		{uid: idxReliability, searchable: []string{"name", "note"}},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}
		if _, err := m.client.Index(idx.uid).UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries all three indexes (or a filtered subset) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxProtocols, ResultProtocol},
		{idxOrders, ResultOrder},
		{idxReliability, ResultReliability},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		queries = append(queries, &meili.SearchRequest{
			IndexUID:              ti.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		})
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxProtocols:
		return ResultProtocol
	case idxOrders:
		return ResultOrder
	case idxReliability:
		return ResultReliability
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")

	switch rtyp {
	case ResultProtocol:
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "body"), decodeString(hit, "body"))
	case ResultOrder:
		r.Title = firstNonBlank(decodeFormattedString(hit, "num"), decodeString(hit, "num"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "body"), decodeString(hit, "body"))
	case ResultReliability:
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "note"), decodeString(hit, "note"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexProtocol adds or updates a protocol in the search index.
func (m *Meili) IndexProtocol(p ProtocolRecord) error {
	_, err := m.client.Index(idxProtocols).AddDocuments([]ProtocolRecord{p}, nil)
	return err
}

// IndexOrder adds or updates an order in the search index.
func (m *Meili) IndexOrder(o OrderRecord) error {
	_, err := m.client.Index(idxOrders).AddDocuments([]OrderRecord{o}, nil)
	return err
}

// IndexReliability adds or updates a reliability measure in the search index.
func (m *Meili) IndexReliability(r ReliabilityRecord) error {
	_, err := m.client.Index(idxReliability).AddDocuments([]ReliabilityRecord{r}, nil)
	return err
}

// DeleteProtocol removes a protocol from the search index.
func (m *Meili) DeleteProtocol(id string) error {
	_, err := m.client.Index(idxProtocols).DeleteDocument(id, nil)
	return err
}

// DeleteOrder removes an order from the search index.
func (m *Meili) DeleteOrder(id string) error {
	_, err := m.client.Index(idxOrders).DeleteDocument(id, nil)
	return err
}

// DeleteReliability removes a reliability measure from the search index.
func (m *Meili) DeleteReliability(id string) error {
	_, err := m.client.Index(idxReliability).DeleteDocument(id, nil)
	return err
}

// IndexProtocols bulk-indexes protocols.
func (m *Meili) IndexProtocols(protocols []ProtocolRecord) error {
	if len(protocols) == 0 {
		return nil
	}
	_, err := m.client.Index(idxProtocols).AddDocuments(protocols, nil)
	return err
}

// IndexOrders bulk-indexes orders.
func (m *Meili) IndexOrders(orders []OrderRecord) error {
	if len(orders) == 0 {
		return nil
	}
	_, err := m.client.Index(idxOrders).AddDocuments(orders, nil)
	return err
}

// IndexReliabilityItems bulk-indexes reliability measures.
func (m *Meili) IndexReliabilityItems(items []ReliabilityRecord) error {
	if len(items) == 0 {
		return nil
	}
	_, err := m.client.Index(idxReliability).AddDocuments(items, nil)
	return err
}
