package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexProtocol indexes a protocol (fire-and-forget to Meilisearch).
func (s *Service) IndexProtocol(p ProtocolRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexProtocol(p); err != nil {
			log.Printf("search: index protocol %s: %v", p.ID, err)
		}
	}()
}

// IndexOrder indexes an order (fire-and-forget to Meilisearch).
func (s *Service) IndexOrder(o OrderRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexOrder(o); err != nil {
			log.Printf("search: index order %s: %v", o.ID, err)
		}
	}()
}

// IndexReliability indexes a reliability measure (fire-and-forget to Meilisearch).
func (s *Service) IndexReliability(r ReliabilityRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexReliability(r); err != nil {
			log.Printf("search: index reliability %s: %v", r.ID, err)
		}
	}()
}

// DeleteProtocol removes a protocol from the search index (fire-and-forget).
func (s *Service) DeleteProtocol(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteProtocol(id); err != nil {
			log.Printf("search: delete protocol %s: %v", id, err)
		}
	}()
}

// DeleteOrder removes an order from the search index (fire-and-forget).
func (s *Service) DeleteOrder(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteOrder(id); err != nil {
			log.Printf("search: delete order %s: %v", id, err)
		}
	}()
}

// DeleteReliability removes a reliability measure from the search index (fire-and-forget).
func (s *Service) DeleteReliability(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteReliability(id); err != nil {
			log.Printf("search: delete reliability %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reads all active documents from PostgreSQL and pushes
// them to Meilisearch. Called at startup when Meilisearch is reachable.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	protocols, orders, items, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexProtocols(protocols); err != nil {
		log.Printf("search: reindex protocols: %v", err)
	}
	if err := s.meili.IndexOrders(orders); err != nil {
		log.Printf("search: reindex orders: %v", err)
	}
	if err := s.meili.IndexReliabilityItems(items); err != nil {
		log.Printf("search: reindex reliability: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
