package server

import (
	"encoding/json"

	"luvia/internal/domain"
	"luvia/internal/engine"
	"luvia/internal/pricing"
	"luvia/internal/sop"
)

// Request payloads

type CustomTaskRequest struct {
	Task      string `json:"task"`
	Mandatory bool   `json:"mandatory,omitempty"`
}

type BookJobRequest struct {
	ClientID      string              `json:"client_id"`
	Service       string              `json:"service" enum:"cleaning,technical"`
	PropertySize  string              `json:"property_size"`
	Location      string              `json:"location,omitempty"`
	ServiceName   string              `json:"service_name,omitempty"`
	PointsToApply int64               `json:"points_to_apply,omitempty"`
	ModuleIDs     []string            `json:"module_ids,omitempty"`
	CustomTasks   []CustomTaskRequest `json:"custom_tasks,omitempty"`
}

type InjectSOPRequest struct {
	ModuleIDs   []string            `json:"module_ids,omitempty"`
	CustomTasks []CustomTaskRequest `json:"custom_tasks,omitempty"`
}

type TravelStatusRequest struct {
	Status string `json:"status" enum:"EN_ROUTE,ON_SITE"`
}

type RecordValueRequest struct {
	Value string `json:"value"`
}

type QuoteRequest struct {
	Service       string `json:"service" enum:"cleaning,technical"`
	PropertySize  string `json:"property_size"`
	Tier          string `json:"tier,omitempty" enum:"SEEDLING,SPROUT,SAPLING,FOREST"`
	PointsToApply int64  `json:"points_to_apply,omitempty"`
}

type SetFactorRequest struct {
	Factor float64 `json:"factor" minimum:"1.0" maximum:"3.0"`
}

type CheckoutLineRequest struct {
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity,omitempty"`
	AutoRefill bool   `json:"auto_refill,omitempty"`
}

type CheckoutRequest struct {
	UserID        string                `json:"user_id"`
	Items         []CheckoutLineRequest `json:"items"`
	PointsToApply int64                 `json:"points_to_apply,omitempty"`
}

// Response payloads

type SOPItemResponse struct {
	ID          string  `json:"id"`
	Task        string  `json:"task"`
	Category    string  `json:"category"`
	IsCompleted bool    `json:"is_completed"`
	IsMandatory bool    `json:"is_mandatory"`
	EvidenceURL *string `json:"evidence_url,omitempty"`
	Value       *string `json:"value,omitempty"`
	Unit        *string `json:"unit,omitempty"`
	Description *string `json:"description,omitempty"`
}

type JobResponse struct {
	ID             string            `json:"id"`
	ServiceName    string            `json:"service_name"`
	Type           string            `json:"type" enum:"cleaning,technical"`
	ClientID       string            `json:"client_id"`
	ClientName     string            `json:"client_name"`
	ProviderID     *string           `json:"provider_id,omitempty"`
	ProviderName   *string           `json:"provider_name,omitempty"`
	Location       string            `json:"location"`
	Status         string            `json:"status" enum:"PENDING,EN_ROUTE,ON_SITE,WORK_IN_PROGRESS,COMPLETED,VERIFIED"`
	TotalAmount    int64             `json:"total_amount"`
	ReleasedAmount int64             `json:"released_amount"`
	EscrowAmount   int64             `json:"escrow_amount"`
	Tier           string            `json:"tier"`
	Date           string            `json:"date" format:"date-time"`
	SOPList        []SOPItemResponse `json:"sop_list"`
	CreatedAt      string            `json:"created_at" format:"date-time"`
	UpdatedAt      string            `json:"updated_at" format:"date-time"`
}

type ProgressResponse struct {
	Job           JobResponse      `json:"job"`
	Percent       int              `json:"percent"`
	MandatoryDone bool             `json:"mandatory_done"`
	Missing       int              `json:"missing"`
	NextMandatory *SOPItemResponse `json:"next_mandatory,omitempty"`
}

type QuoteResponse struct {
	Sessions       int   `json:"sessions"`
	Subtotal       int64 `json:"subtotal"`
	PointsDiscount int64 `json:"points_discount"`
	PointsSpent    int64 `json:"points_spent"`
	Total          int64 `json:"total"`
	Released       int64 `json:"released"`
	Escrow         int64 `json:"escrow"`
}

type FactorResponse struct {
	Factor float64 `json:"factor"`
}

type SOPTemplateResponse struct {
	Task        string  `json:"task"`
	Category    string  `json:"category"`
	IsMandatory bool    `json:"is_mandatory"`
	Unit        *string `json:"unit,omitempty"`
	Description *string `json:"description,omitempty"`
}

type SOPModuleResponse struct {
	ID       string                `json:"id"`
	Name     string                `json:"name"`
	Category string                `json:"category"`
	Tasks    []SOPTemplateResponse `json:"tasks"`
}

type ProductResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Price    int64  `json:"price"`
	Eco      bool   `json:"eco"`
}

type CheckoutResponse struct {
	Subtotal       int64 `json:"subtotal"`
	RefillDiscount int64 `json:"refill_discount"`
	PointsDiscount int64 `json:"points_discount"`
	Total          int64 `json:"total"`
	PointsSpent    int64 `json:"points_spent"`
	PointsEarned   int64 `json:"points_earned"`
	PointsBalance  int64 `json:"points_balance"`
}

type UserResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Tier      string `json:"tier"`
	Points    int64  `json:"points"`
	Level     string `json:"level"`
	Location  string `json:"location,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TransactionResponse struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	UserID      string  `json:"user_id"`
	JobID       *string `json:"job_id,omitempty"`
	Amount      int64   `json:"amount"`
	PointsDelta int64   `json:"points_delta"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedJobs struct {
	Items      []JobResponse `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func sopItemResponse(it domain.SOPItem) SOPItemResponse {
	return SOPItemResponse{
		ID:          it.ID,
		Task:        it.Task,
		Category:    string(it.Category),
		IsCompleted: it.IsCompleted,
		IsMandatory: it.IsMandatory,
		EvidenceURL: it.EvidenceURL,
		Value:       it.Value,
		Unit:        it.Unit,
		Description: it.Description,
	}
}

func jobResponse(j domain.Job) JobResponse {
	items := make([]SOPItemResponse, 0, len(j.SOPList))
	for _, it := range j.SOPList {
		items = append(items, sopItemResponse(it))
	}
	return JobResponse{
		ID:             j.ID,
		ServiceName:    j.ServiceName,
		Type:           string(j.Type),
		ClientID:       j.ClientID,
		ClientName:     j.ClientName,
		ProviderID:     j.ProviderID,
		ProviderName:   j.ProviderName,
		Location:       j.Location,
		Status:         string(j.Status),
		TotalAmount:    j.TotalAmount,
		ReleasedAmount: j.ReleasedAmount,
		EscrowAmount:   j.EscrowAmount,
		Tier:           string(j.Tier),
		Date:           j.Date,
		SOPList:        items,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func mapJobs(in []domain.Job) []JobResponse {
	out := make([]JobResponse, 0, len(in))
	for _, j := range in {
		out = append(out, jobResponse(j))
	}
	return out
}

func progressResponse(p engine.JobProgress) ProgressResponse {
	res := ProgressResponse{
		Job:           jobResponse(p.Job),
		Percent:       p.Percent,
		MandatoryDone: p.MandatoryDone,
		Missing:       p.Missing,
	}
	if p.NextMandatory != nil {
		next := sopItemResponse(*p.NextMandatory)
		res.NextMandatory = &next
	}
	return res
}

func quoteResponse(q pricing.Quote) QuoteResponse {
	return QuoteResponse(q)
}

func moduleResponse(m domain.SOPModule) SOPModuleResponse {
	tasks := make([]SOPTemplateResponse, 0, len(m.Tasks))
	for _, t := range m.Tasks {
		tasks = append(tasks, SOPTemplateResponse{
			Task:        t.Task,
			Category:    string(t.Category),
			IsMandatory: t.IsMandatory,
			Unit:        t.Unit,
			Description: t.Description,
		})
	}
	return SOPModuleResponse{ID: m.ID, Name: m.Name, Category: m.Category, Tasks: tasks}
}

func productResponse(p domain.Product) ProductResponse {
	return ProductResponse(p)
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Role:      string(u.Role),
		Tier:      string(u.Tier),
		Points:    u.Points,
		Level:     pricing.LevelFor(u.Points).Name,
		Location:  u.Location,
		CreatedAt: u.CreatedAt,
	}
}

func transactionResponse(t domain.Transaction) TransactionResponse {
	return TransactionResponse(t)
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func customTasks(in []CustomTaskRequest) []sop.CustomTask {
	out := make([]sop.CustomTask, 0, len(in))
	for _, c := range in {
		out = append(out, sop.CustomTask{Text: c.Task, Mandatory: c.Mandatory})
	}
	return out
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}
