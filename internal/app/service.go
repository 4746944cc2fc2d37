package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"reportdesk/api/internal/auth"
	"reportdesk/api/internal/config"
	"reportdesk/api/internal/creds"
	"reportdesk/api/internal/search"
	"reportdesk/api/internal/session"
	"reportdesk/api/internal/store"
	"reportdesk/api/internal/util"
)

type Session struct {
	Token      string
	Department string
	IsAdmin    bool
	JTI        string
	ExpiresAt  time.Time
}

// reportCategories groups flat submission fields into the nested
// payload stored with each report. Order matters only for readability
// of the stored document.
var reportCategories = []struct {
	name   string
	fields []string
}{
	{"apk", []string{"apk_total", "apk_done", "apk_undone", "apk_reason_undone"}},
	{"apk2", []string{"apk2_total", "apk2_done", "apk2_undone", "apk2_reason_undone"}},
	{"leak", []string{"leak_total", "leak_done"}},
	{"apk4", []string{"apk4_done", "apk4_undone", "apk4_reason_undone"}},
	{"ozp", []string{"ozp_done", "ozp_undone", "ozp_reason_undone"}},
	{"gaz", []string{"gaz_done", "gaz_undone", "gaz_reason_undone"}},
	{"ros", []string{"ros_done", "ros_undone", "ros_reason_undone"}},
	{"rp", []string{"rp_done", "rp_inwork"}},
	{"pat", []string{"pat_done"}},
	{"tu", []string{"tu_done"}},
	{"kss", []string{"kss_done"}},
}

var remarkKinds = []string{"ozp", "gaz", "ros", "apk4"}

var planKinds = []string{"rp", "pat", "tu"}

// seedDepartments is the department roster registered on first start.
var seedDepartments = []string{
	"КС-1,4", "КС-2,3", "КС-5,6", "КС-7,8", "КС-9,10",
	"ГКС", "АиМО", "ЭВС", "ЛЭС", "СЗК", "Связь", "ВПО",
}

type dataStore interface {
	GetUser(context.Context, string) (store.User, error)
	UpsertUser(context.Context, string, string, bool) error
	ListDepartments(context.Context) ([]string, error)
	InsertReport(context.Context, store.Report) error
	ListReports(context.Context, string, string, int, int) ([]store.Report, int, error)
	LatestReport(context.Context, string, string) (*store.Report, error)
	IncrementLeaks(context.Context, int, string, int, int) error
	GetLeaks(context.Context, int, string) (store.LeakTotals, error)
	IncrementKSS(context.Context, int, int) error
	GetKSS(context.Context, int) (int, error)
	IncrementRemarkDone(context.Context, int, string, string, int) (bool, error)
	ReplaceRemarkPlan(context.Context, int, string, string, int) error
	ListRemarks(context.Context, int, string) ([]store.Remark, error)
	ReplacePlan(context.Context, store.Plan) error
	ListPlans(context.Context, int, string) ([]store.Plan, error)
	UpsertPath(context.Context, store.Path) error
	InsertRequest(context.Context, store.Request) error
	ListPendingRequests(context.Context) ([]store.Request, error)
	ListApprovedRequests(context.Context, time.Time) ([]store.Request, error)
	ListCompletedRequests(context.Context, time.Time) ([]store.Request, error)
	InsertProtocol(context.Context, store.Protocol) error
	ListActiveProtocols(context.Context) ([]store.Protocol, error)
	GetProtocol(context.Context, string) (store.Protocol, error)
	UpdateProtocol(context.Context, store.Protocol) (bool, error)
	ArchiveProtocol(context.Context, string, time.Time) (bool, error)
	MarkProtocolDone(context.Context, string, string, string) (bool, error)
	InsertOrder(context.Context, store.Order) error
	ListActiveOrders(context.Context) ([]store.Order, error)
	ArchiveOrder(context.Context, string, time.Time) (bool, error)
	MarkOrderDone(context.Context, string, string, string) (bool, error)
	InsertFault(context.Context, store.Fault) error
	ListActiveFaults(context.Context) ([]store.Fault, error)
	ArchiveFault(context.Context, string, time.Time) (bool, error)
	MarkFaultDone(context.Context, string, time.Time) (bool, error)
	InsertReliabilityItem(context.Context, store.ReliabilityItem) error
	ListActiveReliabilityItems(context.Context) ([]store.ReliabilityItem, error)
	ArchiveReliabilityItem(context.Context, string, time.Time) (bool, error)
	MarkReliabilityDone(context.Context, string, string, string) (bool, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveToken(ctx context.Context, tokenHash string, data session.TokenData, expiresAt time.Time) error
	LookupToken(ctx context.Context, tokenHash string) (session.TokenData, error)
	RevokeToken(ctx context.Context, tokenHash string) error
}

type searchIndexer interface {
	IndexProtocol(search.ProtocolRecord)
	IndexOrder(search.OrderRecord)
	IndexReliability(search.ReliabilityRecord)
	DeleteProtocol(id string)
	DeleteOrder(id string)
	DeleteReliability(id string)
	Search(q search.Query) search.Response
}

type credentialChecker interface {
	Check(ctx context.Context, department, password string) (store.User, error)
	Seed(ctx context.Context, department, password string, isAdmin bool) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	creds    credentialChecker
	sessions sessionStore
	search   searchIndexer
	now      func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, credsService *creds.Service, searchService *search.Service) *Service {
	service := &Service{
		cfg:   cfg,
		store: dataStore,
		creds: credsService,
		now:   time.Now,
	}
	if searchService != nil {
		service.search = searchService
	}
	return service
}

// NewWithSessionStore wires a Redis-backed token store so issued tokens
// can be revoked before expiry.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, credsService *creds.Service, sessions *session.RedisStore, searchService *search.Service) *Service {
	service := New(cfg, dataStore, credsService, searchService)
	service.sessions = sessions
	return service
}

// Bootstrap seeds the department roster with the configured starting
// password. Existing accounts keep their passwords.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.cfg.SeedPassword == "" {
		return nil
	}
	for _, department := range seedDepartments {
		if err := s.creds.Seed(ctx, department, s.cfg.SeedPassword, false); err != nil {
			return fmt.Errorf("seed department %s: %w", department, err)
		}
	}
	if err := s.creds.Seed(ctx, "admin", s.cfg.SeedPassword, true); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	return nil
}

func (s *Service) Authenticate(ctx context.Context, department, password string) (Session, error) {
	user, err := s.creds.Check(ctx, department, password)
	if errors.Is(err, creds.ErrBadCredentials) {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid credentials", nil)
	}
	if err != nil {
		return Session{}, err
	}

	now := s.now()
	expiresAt := now.Add(s.cfg.TokenTTL)
	jti := util.NewID("jti")
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Department: user.Department,
		Admin:      user.IsAdmin,
		JTI:        jti,
		Exp:        expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	if s.sessions != nil {
		data := session.TokenData{
			Department: user.Department,
			IsAdmin:    user.IsAdmin,
			CreatedAt:  now,
		}
		if err := s.sessions.SaveToken(ctx, auth.HashToken(token), data, expiresAt); err != nil {
			return Session{}, fmt.Errorf("save session: %w", err)
		}
	}

	return Session{
		Token:      token,
		Department: user.Department,
		IsAdmin:    user.IsAdmin,
		JTI:        jti,
		ExpiresAt:  expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	if s.sessions != nil {
		if _, err := s.sessions.LookupToken(ctx, auth.HashToken(token)); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				return Session{}, auth.ErrInvalidToken
			}
			return Session{}, err
		}
	}
	return Session{
		Token:      token,
		Department: claims.Department,
		IsAdmin:    claims.Admin,
		JTI:        claims.JTI,
		ExpiresAt:  time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	if s.sessions == nil || token == "" {
		return nil
	}
	return s.sessions.RevokeToken(ctx, auth.HashToken(token))
}

func (s *Service) ListDepartments(ctx context.Context) ([]string, error) {
	return s.store.ListDepartments(ctx)
}

// SubmitReport validates a flat submission, stores the grouped payload
// and feeds the yearly aggregates. Returns the new report id.
func (s *Service) SubmitReport(ctx context.Context, payload map[string]any) (string, error) {
	service := stringField(payload, "service")
	reportType := stringField(payload, "type")
	if service == "" {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "service is required", nil)
	}
	if reportType != "daily" && reportType != "weekly" {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be daily or weekly", nil)
	}

	now := s.now()
	data := buildReportData(payload)
	report := store.Report{
		ID:         util.NewID("rep"),
		Department: service,
		Type:       reportType,
		Data:       mustMarshal(data),
		CreatedAt:  now,
	}
	if err := s.store.InsertReport(ctx, report); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return "", domainError(http.StatusConflict, "REPORT_EXISTS", "A daily report for this department already exists today", nil)
		}
		return "", err
	}

	if err := s.updateAggregates(ctx, service, data, now.Year()); err != nil {
		return "", err
	}

	// A submission can acknowledge meeting protocols alongside the
	// numbers: protocol_<id>=on marks that protocol done for the
	// department.
	doneDate := now.UTC().Format(time.RFC3339)
	for key, value := range payload {
		if !strings.HasPrefix(key, "protocol_") {
			continue
		}
		if text, ok := value.(string); !ok || text != "on" {
			continue
		}
		protocolID := strings.TrimPrefix(key, "protocol_")
		if _, err := s.store.MarkProtocolDone(ctx, protocolID, service, doneDate); err != nil {
			return "", err
		}
	}

	return report.ID, nil
}

// buildReportData groups the flat fields by category. A category is
// emitted only when at least one of its fields was submitted.
func buildReportData(payload map[string]any) map[string]any {
	data := map[string]any{
		"tasks":  stringField(payload, "task"),
		"faults": stringField(payload, "faults"),
	}
	for _, category := range reportCategories {
		fields := map[string]any{}
		for _, field := range category.fields {
			value, ok := payload[field]
			if !ok {
				continue
			}
			switch {
			case strings.Contains(field, "reason"):
				fields[field] = stringValue(value)
			default:
				fields[field] = coerceCount(value)
			}
		}
		if len(fields) > 0 {
			data[category.name] = fields
		}
	}
	return data
}

func (s *Service) updateAggregates(ctx context.Context, department string, data map[string]any, year int) error {
	if leak, ok := data["leak"].(map[string]any); ok {
		total := coerceCount(leak["leak_total"])
		done := coerceCount(leak["leak_done"])
		if err := s.store.IncrementLeaks(ctx, year, department, total, done); err != nil {
			return err
		}
	}

	if kss, ok := data["kss"].(map[string]any); ok {
		if done := coerceCount(kss["kss_done"]); done > 0 {
			if err := s.store.IncrementKSS(ctx, year, done); err != nil {
				return err
			}
		}
	}

	for _, kind := range remarkKinds {
		category, ok := data[kind].(map[string]any)
		if !ok {
			continue
		}
		done := coerceCount(category[kind+"_done"])
		if done <= 0 {
			continue
		}
		// Rows come from planning; unplanned kinds are skipped.
		if _, err := s.store.IncrementRemarkDone(ctx, year, department, kind, done); err != nil {
			return err
		}
	}
	return nil
}

// coerceCount turns a submitted field into a non-negative-or-whatever
// integer. Anything unparseable counts as zero rather than failing the
// whole submission.
func coerceCount(value any) int {
	switch v := value.(type) {
	case nil:
		return 0
	case int:
		return v
	case float64:
		return int(v)
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0
		}
		if n, err := strconv.Atoi(trimmed); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return int(f)
		}
		return 0
	default:
		return 0
	}
}

func (s *Service) ListReports(ctx context.Context, department, reportType string, limit, skip int) ([]store.Report, int, error) {
	if department == "" {
		return nil, 0, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "service is required", nil)
	}
	if limit <= 0 {
		limit = 1
	}
	if skip < 0 {
		skip = 0
	}
	return s.store.ListReports(ctx, department, reportType, limit, skip)
}

// LatestReports returns the most recent daily and weekly report for a
// department, newest first, omitting types never submitted.
func (s *Service) LatestReports(ctx context.Context, department string) ([]store.Report, error) {
	if department == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "service is required", nil)
	}
	items := make([]store.Report, 0, 2)
	for _, reportType := range []string{"daily", "weekly"} {
		report, err := s.store.LatestReport(ctx, department, reportType)
		if err != nil {
			return nil, err
		}
		if report != nil {
			items = append(items, *report)
		}
	}
	return items, nil
}

// SubmitPlanning replaces the yearly quotas carried in the payload.
// Zero or absent totals leave the stored rows untouched.
func (s *Service) SubmitPlanning(ctx context.Context, payload map[string]any) error {
	department := stringField(payload, "service")
	if department == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "service is required", nil)
	}
	year := coerceCount(payload["year"])
	if year == 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "year is required", nil)
	}

	for _, kind := range remarkKinds {
		total := coerceCount(payload[kind+"_total"])
		if total == 0 {
			continue
		}
		if err := s.store.ReplaceRemarkPlan(ctx, year, department, kind, total); err != nil {
			return err
		}
	}

	for _, kind := range planKinds {
		total := coerceCount(payload[kind+"_total"])
		if total == 0 {
			continue
		}
		quarters := map[string]int{
			"1": coerceCount(payload[kind+"_q1"]),
			"2": coerceCount(payload[kind+"_q2"]),
			"3": coerceCount(payload[kind+"_q3"]),
			"4": coerceCount(payload[kind+"_q4"]),
		}
		if err := s.store.ReplacePlan(ctx, store.Plan{
			Department: department,
			Year:       year,
			Kind:       kind,
			Total:      total,
			Quarters:   quarters,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) GetLeaks(ctx context.Context, year int, department string) (store.LeakTotals, error) {
	return s.store.GetLeaks(ctx, year, department)
}

func (s *Service) GetKSS(ctx context.Context, year int) (int, error) {
	return s.store.GetKSS(ctx, year)
}

func (s *Service) ListRemarks(ctx context.Context, year int, department string) ([]map[string]any, error) {
	remarks, err := s.store.ListRemarks(ctx, year, department)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(remarks))
	for _, remark := range remarks {
		items = append(items, map[string]any{
			"value": remark.Kind,
			"total": remark.Total,
			"done":  remark.Done,
		})
	}
	return items, nil
}

func (s *Service) ListPlans(ctx context.Context, year int, department string) ([]map[string]any, error) {
	plans, err := s.store.ListPlans(ctx, year, department)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(plans))
	for _, plan := range plans {
		items = append(items, map[string]any{
			"value":    plan.Kind,
			"total":    plan.Total,
			"quarters": plan.Quarters,
		})
	}
	return items, nil
}

// Search queries protocols, orders and reliability measures.
func (s *Service) Search(_ context.Context, text, docType string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	return s.search.Search(search.Query{
		Text:       text,
		FilterType: search.ResultType(docType),
		Limit:      limit,
		Offset:     offset,
	}), nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func mustMarshal(value any) json.RawMessage {
	encoded, err := json.Marshal(value)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return encoded
}

func stringField(payload map[string]any, key string) string {
	return stringValue(payload[key])
}

func stringValue(value any) string {
	if text, ok := value.(string); ok {
		return text
	}
	if value == nil {
		return ""
	}
	return fmt.Sprintf("%v", value)
}
