package domain

// Role is the actor role enforced at the API boundary.
type Role string

const (
	RoleClient      Role = "CLIENT"
	RoleHandyperson Role = "HANDYPERSON"
	RoleCleaner     Role = "CLEANER"
	RoleAdmin       Role = "ADMIN"
)

// IsProvider reports whether the role performs SOP work on site.
func (r Role) IsProvider() bool {
	return r == RoleHandyperson || r == RoleCleaner
}

// SubscriptionTier orders SEEDLING < SPROUT < SAPLING < FOREST.
type SubscriptionTier string

const (
	TierSeedling SubscriptionTier = "SEEDLING"
	TierSprout   SubscriptionTier = "SPROUT"
	TierSapling  SubscriptionTier = "SAPLING"
	TierForest   SubscriptionTier = "FOREST"
)

// ServiceType selects the base rate for a booking.
type ServiceType string

const (
	ServiceCleaning  ServiceType = "cleaning"
	ServiceTechnical ServiceType = "technical"
)

// SOPCategory is the fixed set of checklist task categories.
type SOPCategory string

const (
	CategorySafety     SOPCategory = "Safety"
	CategoryScientific SOPCategory = "Scientific"
	CategoryTask       SOPCategory = "Task"
	CategoryChemical   SOPCategory = "Chemical"
	CategoryEvidence   SOPCategory = "Evidence"
	CategorySecurity   SOPCategory = "Security"
	CategoryEscrow     SOPCategory = "Escrow"
	CategoryAssessment SOPCategory = "Assessment"
	CategoryLogic      SOPCategory = "Logic"
	CategoryFinal      SOPCategory = "Final"
)

// SOPItem is a single checklist task attached to a job. Items are created
// by composition and then mutated in place by the provider; they are never
// removed from a job.
type SOPItem struct {
	ID          string      `json:"id"`
	Task        string      `json:"task"`
	Category    SOPCategory `json:"category"`
	IsCompleted bool        `json:"is_completed"`
	IsMandatory bool        `json:"is_mandatory"`
	EvidenceURL *string     `json:"evidence_url,omitempty"`
	Value       *string     `json:"value,omitempty"`
	Unit        *string     `json:"unit,omitempty"`
	Description *string     `json:"description,omitempty"`
}

// SOPTemplate is an item blueprint inside a catalog module.
type SOPTemplate struct {
	Task        string      `json:"task"`
	Category    SOPCategory `json:"category"`
	IsMandatory bool        `json:"is_mandatory"`
	Unit        *string     `json:"unit,omitempty"`
	Description *string     `json:"description,omitempty"`
}

// SOPModule is a read-only named bundle of task templates in the catalog.
// Category here is the service area the module belongs to, not an item
// category.
type SOPModule struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Category string        `json:"category"`
	Tasks    []SOPTemplate `json:"tasks"`
}

// Job is a unit of work under contract. Amounts are integer naira in the
// smallest denomination; released + escrow always equals total.
type Job struct {
	ID             string           `json:"id"`
	ServiceName    string           `json:"service_name"`
	Type           ServiceType      `json:"type" enum:"cleaning,technical"`
	ClientID       string           `json:"client_id"`
	ClientName     string           `json:"client_name"`
	ProviderID     *string          `json:"provider_id,omitempty"`
	ProviderName   *string          `json:"provider_name,omitempty"`
	Location       string           `json:"location"`
	PropertyType   string           `json:"property_type,omitempty"`
	Status         JobStatus        `json:"status"`
	TotalAmount    int64            `json:"total_amount"`
	ReleasedAmount int64            `json:"released_amount"`
	EscrowAmount   int64            `json:"escrow_amount"`
	Tier           SubscriptionTier `json:"tier"`
	Date           string           `json:"date" format:"date-time"`
	SOPList        []SOPItem        `json:"sop_list"`
	CreatedAt      string           `json:"created_at" format:"date-time"`
	UpdatedAt      string           `json:"updated_at" format:"date-time"`
}

// User carries the booking parameters and the points balance the ledgers
// debit and credit.
type User struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Role      Role             `json:"role"`
	Tier      SubscriptionTier `json:"tier"`
	Points    int64            `json:"points"`
	Location  string           `json:"location,omitempty"`
	CreatedAt string           `json:"created_at" format:"date-time"`
}

// Product is a marketplace catalog item.
type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Price    int64  `json:"price"`
	Eco      bool   `json:"eco"`
}

// Transaction kinds written to the ledger.
const (
	TxnBooking       = "booking"
	TxnEscrowRelease = "escrow_release"
	TxnPurchase      = "purchase"
)

// Transaction is one append-only ledger row. Amount is the money moved;
// PointsDelta is the net change applied to the user's points balance.
type Transaction struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	UserID      string  `json:"user_id"`
	JobID       *string `json:"job_id,omitempty"`
	Amount      int64   `json:"amount"`
	PointsDelta int64   `json:"points_delta"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      Role   `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
