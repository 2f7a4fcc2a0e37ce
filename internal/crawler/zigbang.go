package crawler

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"rentradar/internal/domain"
	"rentradar/internal/fetch"
	"rentradar/internal/region"
)

const DefaultZigbangBaseURL = "https://apis.zigbang.com/v2"

// Zigbang searches by district name, one request per district, property type
// and rent type combination.
var (
	zigbangTypeCodes  = map[string]string{"A1": domain.PropertyApt, "A2": domain.PropertyVilla, "A4": domain.PropertyOfficetel}
	zigbangSalesCodes = map[string]string{"G1": domain.RentJeonse, "G2": domain.RentMonthly}

	// Older payloads carry Korean type names instead of codes.
	zigbangTypeNames  = map[string]string{"아파트": domain.PropertyApt, "빌라/연립": domain.PropertyVilla, "오피스텔": domain.PropertyOfficetel}
	zigbangSalesNames = map[string]string{"전세": domain.RentJeonse, "월세": domain.RentMonthly}

	zigbangCodeForType = map[string]string{domain.PropertyApt: "A1", domain.PropertyVilla: "A2", domain.PropertyOfficetel: "A4"}
)

type Zigbang struct {
	client         *fetch.Client
	baseURL        string
	defaultRegions []string
	logger         *zap.Logger
}

func NewZigbang(client *fetch.Client, baseURL string, defaultRegions []string, logger *zap.Logger) *Zigbang {
	if baseURL == "" {
		baseURL = DefaultZigbangBaseURL
	}
	return &Zigbang{client: client, baseURL: baseURL, defaultRegions: defaultRegions, logger: logger}
}

func (z *Zigbang) Source() string { return domain.SourceZigbang }

// Run walks every district/type/rent-type combination and aggregates the
// parsed listings. Failed combinations are logged and skipped so one bad
// district cannot sink the whole run.
func (z *Zigbang) Run(ctx context.Context, req domain.TaskRequest, stats *domain.RunStats) (*Result, error) {
	codes := req.Regions
	if len(codes) == 0 {
		codes = z.defaultRegions
	}
	districts := region.DistrictNames(codes)
	if len(districts) == 0 {
		z.logger.Warn("no districts resolved for zigbang run", zap.Strings("region_codes", codes))
		return &Result{Scope: domain.DeactivationScope{Source: domain.SourceZigbang}}, nil
	}

	typeCodes := zigbangTypeCodesFor(req.PropertyTypes)
	sampler := newKeySampler()
	result := &Result{}
	propertyTypes := make([]string, 0, len(typeCodes))
	for _, tc := range typeCodes {
		propertyTypes = append(propertyTypes, zigbangTypeCodes[tc])
	}

	for _, district := range districts {
		for _, typeCode := range typeCodes {
			for _, salesCode := range []string{"G1", "G2"} {
				if err := ctx.Err(); err != nil {
					return nil, err
				}

				params := url.Values{}
				params.Set("q", district)
				params.Set("typeCode", typeCode)
				params.Set("salesTypeCode", salesCode)

				res, err := z.client.Get(ctx, z.baseURL+"/search", params, stats)
				if err != nil {
					return nil, err
				}
				if res == nil {
					continue
				}

				items, ok := z.decodeSearch(res.Body, district)
				if !ok {
					continue
				}
				result.RawCount += len(items)

				for _, item := range items {
					sampler.observe(item)
					listing, ok := z.parseItem(item, district)
					if !ok {
						result.InvalidCount++
						continue
					}
					result.Listings = append(result.Listings, listing)
				}

				z.logger.Info("zigbang search page fetched",
					zap.String("district", district),
					zap.String("type_code", typeCode),
					zap.String("sales_type_code", salesCode),
					zap.Int("items", len(items)))
			}
		}
	}

	result.KeySamples = sampler.samples
	result.Scope = domain.DeactivationScope{
		Source:        domain.SourceZigbang,
		Dongs:         districts,
		PropertyTypes: propertyTypes,
		RentTypes:     []string{domain.RentJeonse, domain.RentMonthly},
	}
	return result, nil
}

// decodeSearch unwraps the search envelope. The API signals success with a
// string code "200"; anything else carries a message and no usable items.
func (z *Zigbang) decodeSearch(body []byte, district string) ([]map[string]any, bool) {
	var payload struct {
		Code    any              `json:"code"`
		Message string           `json:"message"`
		Items   []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		z.logger.Warn("zigbang search payload is not valid json",
			zap.String("district", district), zap.Error(err))
		return nil, false
	}
	if toString(payload.Code) != "200" {
		z.logger.Warn("zigbang search failed",
			zap.String("district", district), zap.String("message", payload.Message))
		return nil, false
	}
	return payload.Items, true
}

func (z *Zigbang) parseItem(item map[string]any, district string) (domain.Listing, bool) {
	sourceID := zigbangSourceID(item)
	if sourceID == "" {
		return domain.Listing{}, false
	}
	if !zigbangHasCoreFields(item) {
		return domain.Listing{}, false
	}

	propertyRaw := firstValue(item, "property_type_code", "property_type")
	if propertyRaw == "" {
		propertyRaw = "A1"
	}
	salesRaw := firstValue(item, "sales_type_code", "sales_type")
	if salesRaw == "" {
		salesRaw = "G1"
	}

	area := toFloat(item["exclusive_area_m2"])
	if area == 0 {
		area = toFloat(item["area_m2"])
	}

	return domain.Listing{
		Source:        domain.SourceZigbang,
		SourceID:      sourceID,
		PropertyType:  mapWithFallback(propertyRaw, zigbangTypeCodes, zigbangTypeNames, domain.PropertyApt),
		RentType:      mapWithFallback(salesRaw, zigbangSalesCodes, zigbangSalesNames, domain.RentJeonse),
		Deposit:       toInt(item["deposit"]),
		MonthlyRent:   toInt(item["rent"]),
		Address:       toString(item["address"]),
		Dong:          district,
		DetailAddress: toString(item["full_address"]),
		AreaM2:        area,
		Floor:         toInt(item["floor1"]),
		Description:   toString(item["comment"]),
	}, true
}

// zigbangSourceID probes the identifier keys the API has used over time.
func zigbangSourceID(item map[string]any) string {
	for _, key := range []string{"item_id", "itemId", "id"} {
		if id := strings.TrimSpace(toString(item[key])); id != "" {
			return id
		}
	}
	return ""
}

// zigbangHasCoreFields requires the minimum fields a rental row needs. Items
// without them are search noise (agencies, ads) and count as invalid.
func zigbangHasCoreFields(item map[string]any) bool {
	_, hasDeposit := item["deposit"]
	_, hasRent := item["rent"]
	_, hasAddress := item["address"]
	_, hasFull := item["full_address"]
	return hasDeposit && hasRent && (hasAddress || hasFull)
}

func zigbangTypeCodesFor(propertyTypes []string) []string {
	if len(propertyTypes) == 0 {
		return []string{"A1", "A2", "A4"}
	}
	codes := make([]string, 0, len(propertyTypes))
	for _, pt := range propertyTypes {
		if code, ok := zigbangCodeForType[pt]; ok {
			codes = append(codes, code)
		}
	}
	if len(codes) == 0 {
		return []string{"A1", "A2", "A4"}
	}
	return codes
}

func firstValue(item map[string]any, keys ...string) string {
	for _, key := range keys {
		if value := toString(item[key]); value != "" {
			return value
		}
	}
	return ""
}

func mapWithFallback(raw string, codes, names map[string]string, fallback string) string {
	if mapped, ok := codes[raw]; ok {
		return mapped
	}
	if mapped, ok := names[raw]; ok {
		return mapped
	}
	return fallback
}
