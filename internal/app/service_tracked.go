package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"reportdesk/api/internal/search"
	"reportdesk/api/internal/store"
	"reportdesk/api/internal/util"
)

func protocolRecord(p store.Protocol) search.ProtocolRecord {
	return search.ProtocolRecord{
		ID:   p.ID,
		Num:  p.ProtocolNum,
		Name: p.ProtocolName,
		Body: p.Text,
	}
}

var faultTypes = map[string]struct{}{
	"Газнадзор":    {},
	"Ростехнадзор": {},
}

var requestStatuses = map[string]struct{}{
	"inwork":   {},
	"approved": {},
}

var requestTypes = map[string]struct{}{
	"with_approval": {},
	"other":         {},
}

type CreateProtocolInput struct {
	IssueDate    string   `json:"issue_date"`
	ProtocolNum  string   `json:"protocol_num"`
	ProtocolName string   `json:"protocol_name"`
	Deadline     string   `json:"deadline"`
	Text         string   `json:"text"`
	Departments  []string `json:"departments"`
}

type CreateOrderInput struct {
	IssueDate   string   `json:"issue_date"`
	Num         string   `json:"num"`
	Deadline    string   `json:"deadline"`
	Text        string   `json:"text"`
	Departments []string `json:"departments"`
}

type CreateFaultInput struct {
	Date       string `json:"date"`
	Type       string `json:"type"`
	Text       string `json:"text"`
	Department string `json:"department"`
}

type CreateReliabilityInput struct {
	Name        string   `json:"name"`
	Date        string   `json:"date"`
	Departments []string `json:"departments"`
	Note        string   `json:"note"`
	Source      string   `json:"source"`
}

type CreateRequestInput struct {
	Status          string          `json:"status"`
	ReqType         string          `json:"req_type"`
	IsComplete      bool            `json:"is_complete"`
	RequestDatetime string          `json:"request_datetime"`
	GpaID           string          `json:"gpa_id"`
	PathID          string          `json:"path_id"`
	Extra           json.RawMessage `json:"extra"`
}

// RequestBuckets classifies open requests for the dashboard: pending
// approval, approved for today or earlier, and completed today.
func (s *Service) RequestBuckets(ctx context.Context) (map[string][]map[string]any, error) {
	today := s.now()

	pending, err := s.store.ListPendingRequests(ctx)
	if err != nil {
		return nil, err
	}
	approved, err := s.store.ListApprovedRequests(ctx, today)
	if err != nil {
		return nil, err
	}
	completed, err := s.store.ListCompletedRequests(ctx, today)
	if err != nil {
		return nil, err
	}

	return map[string][]map[string]any{
		"pending":   projectRequests(pending),
		"approved":  projectRequests(approved),
		"completed": projectRequests(completed),
	}, nil
}

// projectRequests shapes requests for clients: internal references
// (gpa_id, path_id) are replaced with the joined path attributes and
// any extra fields are flattened in.
func projectRequests(requests []store.Request) []map[string]any {
	items := make([]map[string]any, 0, len(requests))
	for _, request := range requests {
		item := map[string]any{}
		if len(request.Extra) > 0 {
			_ = json.Unmarshal(request.Extra, &item)
		}
		item["status"] = request.Status
		item["req_type"] = request.ReqType
		item["is_complete"] = request.IsComplete
		item["request_datetime"] = request.RequestDatetime.UTC().Format(time.RFC3339)
		gpaType := request.PathType
		if gpaType == "" {
			gpaType = "—"
		}
		item["gpa_type"] = gpaType
		item["num_stages"] = request.NumStages
		items = append(items, item)
	}
	return items
}

func (s *Service) CreateRequest(ctx context.Context, input CreateRequestInput) (string, error) {
	if _, ok := requestStatuses[input.Status]; !ok {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be inwork or approved", nil)
	}
	if _, ok := requestTypes[input.ReqType]; !ok {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "req_type must be with_approval or other", nil)
	}
	requestDatetime, err := parseTimestamp(input.RequestDatetime)
	if err != nil {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "request_datetime must be an RFC 3339 timestamp", nil)
	}

	request := store.Request{
		ID:              util.NewID("req"),
		Status:          input.Status,
		ReqType:         input.ReqType,
		IsComplete:      input.IsComplete,
		RequestDatetime: requestDatetime,
		GpaID:           input.GpaID,
		PathID:          input.PathID,
		Extra:           input.Extra,
	}
	if err := s.store.InsertRequest(ctx, request); err != nil {
		return "", err
	}
	return request.ID, nil
}

func (s *Service) UpsertPath(ctx context.Context, id, pathType string, numStages int) error {
	if id == "" || pathType == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "id and path_type are required", nil)
	}
	return s.store.UpsertPath(ctx, store.Path{ID: id, PathType: pathType, NumStages: numStages})
}

func (s *Service) ListProtocols(ctx context.Context) ([]map[string]any, error) {
	protocols, err := s.store.ListActiveProtocols(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(protocols))
	for _, protocol := range protocols {
		items = append(items, map[string]any{
			"id":            protocol.ID,
			"protocol_num":  protocol.ProtocolNum,
			"protocol_name": protocol.ProtocolName,
			"issue_date":    protocol.IssueDate.UTC().Format(time.RFC3339),
			"deadline":      protocol.Deadline,
			"departments":   protocol.Departments,
			"text":          protocol.Text,
			"done":          doneMap(protocol.Done),
		})
	}
	return items, nil
}

func (s *Service) CreateProtocol(ctx context.Context, input CreateProtocolInput) (string, error) {
	issueDate, err := parseTimestamp(input.IssueDate)
	if err != nil {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "issue_date must be an RFC 3339 timestamp", nil)
	}
	if input.ProtocolNum == "" || input.ProtocolName == "" || input.Deadline == "" || input.Text == "" || len(input.Departments) == 0 {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "protocol_num, protocol_name, deadline, text and departments are required", nil)
	}

	protocol := store.Protocol{
		ID:           util.NewID("prt"),
		ProtocolNum:  input.ProtocolNum,
		ProtocolName: input.ProtocolName,
		IssueDate:    issueDate,
		Deadline:     input.Deadline,
		Text:         input.Text,
		Departments:  input.Departments,
		CreatedAt:    s.now(),
	}
	if err := s.store.InsertProtocol(ctx, protocol); err != nil {
		return "", err
	}
	if s.search != nil {
		s.search.IndexProtocol(protocolRecord(protocol))
	}
	return protocol.ID, nil
}

func (s *Service) UpdateProtocol(ctx context.Context, id string, input CreateProtocolInput) error {
	issueDate, err := parseTimestamp(input.IssueDate)
	if err != nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "issue_date must be an RFC 3339 timestamp", nil)
	}
	found, err := s.store.UpdateProtocol(ctx, store.Protocol{
		ID:           id,
		ProtocolNum:  input.ProtocolNum,
		ProtocolName: input.ProtocolName,
		IssueDate:    issueDate,
		Deadline:     input.Deadline,
		Text:         input.Text,
		Departments:  input.Departments,
	})
	if err != nil {
		return err
	}
	if !found {
		return sql.ErrNoRows
	}
	if s.search != nil {
		if protocol, err := s.store.GetProtocol(ctx, id); err == nil {
			s.search.IndexProtocol(protocolRecord(protocol))
		}
	}
	return nil
}

func (s *Service) ArchiveProtocol(ctx context.Context, id string) error {
	found, err := s.store.ArchiveProtocol(ctx, id, s.now())
	if err != nil {
		return err
	}
	if !found {
		return sql.ErrNoRows
	}
	if s.search != nil {
		s.search.DeleteProtocol(id)
	}
	return nil
}

func (s *Service) MarkProtocolDone(ctx context.Context, id, department, doneDate string) error {
	normalized, err := normalizeDoneDate(doneDate)
	if err != nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "done_date must be an RFC 3339 timestamp", nil)
	}
	if department == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "service is required", nil)
	}
	found, err := s.store.MarkProtocolDone(ctx, id, department, normalized)
	if err != nil {
		return err
	}
	if !found {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Service) ListOrders(ctx context.Context) ([]map[string]any, error) {
	orders, err := s.store.ListActiveOrders(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(orders))
	for _, order := range orders {
		items = append(items, map[string]any{
			"id":          order.ID,
			"num":         order.Num,
			"issue_date":  order.IssueDate.UTC().Format(time.RFC3339),
			"deadline":    order.Deadline,
			"departments": order.Departments,
			"text":        order.Text,
			"done":        doneMap(order.Done),
		})
	}
	return items, nil
}

func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (string, error) {
	issueDate, err := parseTimestamp(input.IssueDate)
	if err != nil {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "issue_date must be an RFC 3339 timestamp", nil)
	}
	if input.Num == "" || input.Deadline == "" || input.Text == "" || len(input.Departments) == 0 {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "num, deadline, text and departments are required", nil)
	}

	order := store.Order{
		ID:          util.NewID("ord"),
		Num:         input.Num,
		IssueDate:   issueDate,
		Deadline:    input.Deadline,
		Text:        input.Text,
		Departments: input.Departments,
		CreatedAt:   s.now(),
	}
	if err := s.store.InsertOrder(ctx, order); err != nil {
		return "", err
	}
	if s.search != nil {
		s.search.IndexOrder(search.OrderRecord{ID: order.ID, Num: order.Num, Body: order.Text})
	}
	return order.ID, nil
}

func (s *Service) ArchiveOrder(ctx context.Context, id string) error {
	found, err := s.store.ArchiveOrder(ctx, id, s.now())
	if err != nil {
		return err
	}
	if !found {
		return sql.ErrNoRows
	}
	if s.search != nil {
		s.search.DeleteOrder(id)
	}
	return nil
}

func (s *Service) MarkOrderDone(ctx context.Context, id, department, doneDate string) error {
	normalized, err := normalizeDoneDate(doneDate)
	if err != nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "done_date must be an RFC 3339 timestamp", nil)
	}
	if department == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "service is required", nil)
	}
	found, err := s.store.MarkOrderDone(ctx, id, department, normalized)
	if err != nil {
		return err
	}
	if !found {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Service) ListFaults(ctx context.Context) ([]map[string]any, error) {
	faults, err := s.store.ListActiveFaults(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(faults))
	for _, fault := range faults {
		item := map[string]any{
			"id":         fault.ID,
			"date":       fault.DueDate.UTC().Format(time.RFC3339),
			"department": fault.Department,
			"type":       fault.Type,
			"text":       fault.Text,
			"is_done":    fault.IsDone,
			"date_done":  nil,
		}
		if fault.DateDone != nil {
			item["date_done"] = fault.DateDone.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Service) CreateFault(ctx context.Context, input CreateFaultInput) (string, error) {
	dueDate, err := parseTimestamp(input.Date)
	if err != nil {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "date must be an RFC 3339 timestamp", nil)
	}
	if _, ok := faultTypes[input.Type]; !ok {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be Газнадзор or Ростехнадзор", nil)
	}
	if input.Department == "" || input.Text == "" {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "department and text are required", nil)
	}

	fault := store.Fault{
		ID:         util.NewID("flt"),
		Department: input.Department,
		Type:       input.Type,
		Text:       input.Text,
		DueDate:    dueDate,
		CreatedAt:  s.now(),
	}
	if err := s.store.InsertFault(ctx, fault); err != nil {
		return "", err
	}
	return fault.ID, nil
}

func (s *Service) ArchiveFault(ctx context.Context, id string) error {
	found, err := s.store.ArchiveFault(ctx, id, s.now())
	if err != nil {
		return err
	}
	if !found {
		return sql.ErrNoRows
	}
	return nil
}

// MarkFaultDone closes a fault as a whole; faults are per-department
// already, unlike the protocol/order done maps.
func (s *Service) MarkFaultDone(ctx context.Context, id, doneDate string) error {
	at := s.now()
	if doneDate != "" {
		parsed, err := parseTimestamp(doneDate)
		if err != nil {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "done_date must be an RFC 3339 timestamp", nil)
		}
		at = parsed
	}
	found, err := s.store.MarkFaultDone(ctx, id, at)
	if err != nil {
		return err
	}
	if !found {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Service) ListReliability(ctx context.Context) ([]map[string]any, error) {
	reliability, err := s.store.ListActiveReliabilityItems(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(reliability))
	for _, item := range reliability {
		items = append(items, map[string]any{
			"id":          item.ID,
			"name":        item.Name,
			"date":        item.Period,
			"departments": item.Departments,
			"note":        item.Note,
			"done":        doneMap(item.Done),
		})
	}
	return items, nil
}

func (s *Service) CreateReliabilityItem(ctx context.Context, input CreateReliabilityInput) (string, error) {
	if input.Name == "" || len(input.Departments) == 0 {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name and departments are required", nil)
	}

	item := store.ReliabilityItem{
		ID:          util.NewID("rel"),
		Name:        input.Name,
		Period:      input.Date,
		Departments: input.Departments,
		Note:        input.Note,
		Source:      input.Source,
		CreatedAt:   s.now(),
	}
	if err := s.store.InsertReliabilityItem(ctx, item); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return "", domainError(http.StatusConflict, "RELIABILITY_EXISTS", "A measure with this name and period already exists", nil)
		}
		return "", err
	}
	if s.search != nil {
		s.search.IndexReliability(search.ReliabilityRecord{ID: item.ID, Name: item.Name, Note: item.Note})
	}
	return item.ID, nil
}

func (s *Service) ArchiveReliabilityItem(ctx context.Context, id string) error {
	found, err := s.store.ArchiveReliabilityItem(ctx, id, s.now())
	if err != nil {
		return err
	}
	if !found {
		return sql.ErrNoRows
	}
	if s.search != nil {
		s.search.DeleteReliability(id)
	}
	return nil
}

func (s *Service) MarkReliabilityDone(ctx context.Context, id, department, doneDate string) error {
	normalized, err := normalizeDoneDate(doneDate)
	if err != nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "done_date must be an RFC 3339 timestamp", nil)
	}
	if department == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "service is required", nil)
	}
	found, err := s.store.MarkReliabilityDone(ctx, id, department, normalized)
	if err != nil {
		return err
	}
	if !found {
		return sql.ErrNoRows
	}
	return nil
}

// doneMap guarantees clients always get an object, never null.
func doneMap(done map[string]string) map[string]string {
	if done == nil {
		return map[string]string{}
	}
	return done
}

// parseTimestamp accepts RFC 3339 and the date-only form clients send
// from date pickers.
func parseTimestamp(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}

func normalizeDoneDate(value string) (string, error) {
	t, err := parseTimestamp(value)
	if err != nil {
		return "", err
	}
	return t.UTC().Format(time.RFC3339), nil
}
