package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleCashier Role = "CASHIER"
	RoleWaiter  Role = "WAITER"
	RoleSystem  Role = "SYSTEM"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleCashier, RoleWaiter:
		return true
	}
	return false
}

// CanSettle reports whether the role may dispatch, settle, void or ring up direct sales.
func (r Role) CanSettle() bool {
	return r == RoleAdmin || r == RoleCashier || r == RoleSystem
}

type Actor struct {
	StaffID string `json:"staff_id"`
	Name    string `json:"name"`
	Role    Role   `json:"role"`
}

// SystemActor is used for writes that are not driven by a logged-in terminal,
// such as gateway callbacks and background sweeps.
var SystemActor = Actor{StaffID: "SYSTEM", Name: "System", Role: RoleSystem}

type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Category  string          `json:"category"`
	Stock     int             `json:"stock"`
	UnitSize  string          `json:"unit_size,omitempty"`
	Type      string          `json:"type,omitempty"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type ProductCreateRequest struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Category     string          `json:"category"`
	InitialStock int             `json:"initial_stock"`
	UnitSize     string          `json:"unit_size"`
	Type         string          `json:"type"`
}

type ProductUpdateRequest struct {
	Name            *string          `json:"name,omitempty"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	Category        *string          `json:"category,omitempty"`
	UnitSize        *string          `json:"unit_size,omitempty"`
	Type            *string          `json:"type,omitempty"`
	ExpectedVersion *int64           `json:"expected_version,omitempty"`
}

type StockDirection string

const (
	StockDeduct  StockDirection = "DEDUCT"
	StockRestore StockDirection = "RESTORE"
)

// StockChange is a signed per-product delta applied atomically with an order transition.
type StockChange struct {
	ProductID string `json:"product_id"`
	Delta     int    `json:"delta"`
}

type StockAdjustRequest struct {
	Quantity  int            `json:"quantity"`
	Direction StockDirection `json:"direction"`
}

type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "cash"
	PaymentCard  PaymentMethod = "card"
	PaymentMpesa PaymentMethod = "mpesa"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentMpesa:
		return true
	}
	return false
}

// OrderLine is a snapshot of a product taken when the line entered a cart.
// Later catalog edits never change it.
type OrderLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
}

type Order struct {
	ID            string          `json:"id"`
	StaffID       string          `json:"staff_id"`
	StaffName     string          `json:"staff_name"`
	Items         []OrderLine     `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TaxTotal      decimal.Decimal `json:"tax_total"`
	Total         decimal.Decimal `json:"total"`
	Status        OrderStatus     `json:"status"`
	PaymentMethod PaymentMethod   `json:"payment_method,omitempty"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	SettledAt     *time.Time      `json:"settled_at,omitempty"`
}

type DirectSaleRequest struct {
	Lines         []OrderLine     `json:"lines"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Phone         string          `json:"phone,omitempty"`
}

type SettleRequest struct {
	PaymentMethod PaymentMethod `json:"payment_method"`
	Phone         string        `json:"phone,omitempty"`
}

type AuditEntry struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	ActorName string    `json:"actor_name"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

type NotificationCategory string

const (
	NotifyStockAdd NotificationCategory = "STOCK_ADD"
	NotifyAlert    NotificationCategory = "ALERT"
	NotifyInfo     NotificationCategory = "INFO"
)

type Notification struct {
	ID        string               `json:"id"`
	Title     string               `json:"title"`
	Message   string               `json:"message"`
	Category  NotificationCategory `json:"category"`
	Read      bool                 `json:"read"`
	CreatedAt time.Time            `json:"created_at"`
}

const (
	AuditRetention        = 500
	NotificationRetention = 50
)

type Staff struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	PINHash   string    `json:"-"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type StaffCreateRequest struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
	PIN  string `json:"pin"`
}

type PINChangeRequest struct {
	PIN string `json:"pin"`
}

type LoginRequest struct {
	PIN string `json:"pin"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	StaffID     string `json:"staff_id"`
	Name        string `json:"name"`
	Role        Role   `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type BusinessType string

const (
	BusinessLiquorStore   BusinessType = "LIQUOR_STORE"
	BusinessBarRestaurant BusinessType = "BAR_RESTAURANT"
	BusinessWholesale     BusinessType = "WHOLESALE"
)

type Settings struct {
	BusinessName string       `json:"business_name"`
	BusinessType BusinessType `json:"business_type"`
	Currency     string       `json:"currency"`
	// TaxRate is a percentage, 16 means 16%.
	TaxRate          decimal.Decimal            `json:"tax_rate"`
	CategoryTaxRates map[string]decimal.Decimal `json:"category_tax_rates,omitempty"`
	StockPolicy      StockPolicy                `json:"stock_policy"`
}

type StockPolicy string

const (
	StockPolicyAllow  StockPolicy = "allow"
	StockPolicyReject StockPolicy = "reject"
)

type StaffSales struct {
	StaffName string          `json:"staff_name"`
	Total     decimal.Decimal `json:"total"`
}

type MethodRevenue struct {
	Method PaymentMethod   `json:"method"`
	Orders int             `json:"orders"`
	Total  decimal.Decimal `json:"total"`
}

type StaffStats struct {
	StaffID   string          `json:"staff_id"`
	Settled   decimal.Decimal `json:"settled"`
	Unsettled decimal.Decimal `json:"unsettled"`
	Total     decimal.Decimal `json:"total"`
}
