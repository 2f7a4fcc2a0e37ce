package domain

import "time"

// Listing source names.
const (
	SourceZigbang = "zigbang"
	SourceNaver   = "naver"
	// SourcePublicAPI tags real-trade records fetched from the MOLIT open API.
	SourcePublicAPI = "public_api"
)

// Property type values shared across sources.
const (
	PropertyApt       = "apt"
	PropertyVilla     = "villa"
	PropertyOfficetel = "officetel"
	PropertyOneroom   = "oneroom"
)

// Rent type values.
const (
	RentJeonse  = "jeonse"
	RentMonthly = "monthly"
)

// Trade categories carried by real trade records. Only rental trades are
// ingested today.
const TradeCategoryRent = "rent"

// Listing represents a rental listing collected from an external source.
// Source plus SourceID uniquely identify a listing.
type Listing struct {
	ID            int64     `json:"id,omitempty"`
	Source        string    `json:"source"`
	SourceID      string    `json:"source_id"`
	PropertyType  string    `json:"property_type"`
	RentType      string    `json:"rent_type"`
	Deposit       int       `json:"deposit"`
	MonthlyRent   int       `json:"monthly_rent"`
	Address       string    `json:"address"`
	Dong          string    `json:"dong,omitempty"`
	DetailAddress string    `json:"detail_address,omitempty"`
	AreaM2        float64   `json:"area_m2,omitempty"`
	Floor         int       `json:"floor,omitempty"`
	TotalFloors   int       `json:"total_floors,omitempty"`
	Description   string    `json:"description,omitempty"`
	Latitude      float64   `json:"latitude,omitempty"`
	Longitude     float64   `json:"longitude,omitempty"`
	IsActive      bool      `json:"is_active"`
	FirstSeenAt   time.Time `json:"first_seen_at,omitempty"`
	LastSeenAt    time.Time `json:"last_seen_at,omitempty"`
}

// RealTrade represents an official rent contract record from the public API.
// Records are immutable facts identified by their natural key.
type RealTrade struct {
	ID            int64   `json:"id,omitempty"`
	PropertyType  string  `json:"property_type"`
	RentType      string  `json:"rent_type"`
	TradeCategory string  `json:"trade_category"`
	RegionCode    string  `json:"region_code"`
	Dong          string  `json:"dong"`
	AptName       string  `json:"apt_name"`
	Deposit       int     `json:"deposit"`
	MonthlyRent   int     `json:"monthly_rent"`
	AreaM2        float64 `json:"area_m2,omitempty"`
	Floor         int     `json:"floor"`
	ContractYear  int     `json:"contract_year"`
	ContractMonth int     `json:"contract_month"`
	ContractDay   int     `json:"contract_day"`
}

// ListingFilter narrows listing searches. Zero values mean "no constraint".
type ListingFilter struct {
	RegionCode      string  `json:"region_code,omitempty"`
	Dong            string  `json:"dong,omitempty"`
	PropertyType    string  `json:"property_type,omitempty"`
	RentType        string  `json:"rent_type,omitempty"`
	MinDeposit      int     `json:"min_deposit,omitempty"`
	MaxDeposit      int     `json:"max_deposit,omitempty"`
	MinRent         int     `json:"min_rent,omitempty"`
	MaxRent         int     `json:"max_rent,omitempty"`
	MinAreaM2       float64 `json:"min_area_m2,omitempty"`
	MaxAreaM2       float64 `json:"max_area_m2,omitempty"`
	MinFloor        int     `json:"min_floor,omitempty"`
	MaxFloor        int     `json:"max_floor,omitempty"`
	IncludeInactive bool    `json:"include_inactive,omitempty"`
	Limit           int     `json:"limit,omitempty"`
}

// TradeFilter narrows real trade searches.
type TradeFilter struct {
	RegionCode string `json:"region_code,omitempty"`
	Dong       string `json:"dong,omitempty"`
	RentType   string `json:"rent_type,omitempty"`
	MinYear    int    `json:"min_year,omitempty"`
	MaxDeposit int    `json:"max_deposit,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// DeactivationScope bounds a stale-listing sweep to the rows a crawl run
// actually observed. Empty slices leave that dimension unconstrained.
type DeactivationScope struct {
	Source        string
	Dongs         []string
	PropertyTypes []string
	RentTypes     []string
}
