package crawler

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"rentradar/internal/domain"
	"rentradar/internal/fetch"
)

const DefaultNaverBaseURL = "https://new.land.naver.com/api"

var (
	naverTypeCodes  = map[string]string{"APT": domain.PropertyApt, "VILLA": domain.PropertyVilla, "OPST": domain.PropertyOfficetel, "ONEROOM": domain.PropertyOneroom}
	naverTradeCodes = map[string]string{"B1": domain.RentJeonse, "B2": domain.RentMonthly}

	naverCodeForType = map[string]string{domain.PropertyApt: "APT", domain.PropertyVilla: "VILLA", domain.PropertyOfficetel: "OPST", domain.PropertyOneroom: "ONEROOM"}
)

// Naver queries the article list per legal-dong code. Articles carry their
// own dong, so the run scope does not constrain dongs.
type Naver struct {
	client         *fetch.Client
	baseURL        string
	defaultRegions []string
	logger         *zap.Logger
}

func NewNaver(client *fetch.Client, baseURL string, defaultRegions []string, logger *zap.Logger) *Naver {
	if baseURL == "" {
		baseURL = DefaultNaverBaseURL
	}
	return &Naver{client: client, baseURL: baseURL, defaultRegions: defaultRegions, logger: logger}
}

func (n *Naver) Source() string { return domain.SourceNaver }

func (n *Naver) Run(ctx context.Context, req domain.TaskRequest, stats *domain.RunStats) (*Result, error) {
	regions := req.Regions
	if len(regions) == 0 {
		regions = n.defaultRegions
	}

	typeCodes := naverTypeCodesFor(req.PropertyTypes)
	sampler := newKeySampler()
	result := &Result{}
	propertyTypes := make([]string, 0, len(typeCodes))
	for _, tc := range typeCodes {
		propertyTypes = append(propertyTypes, naverTypeCodes[tc])
	}

	for _, regionCode := range regions {
		for _, typeCode := range typeCodes {
			for _, tradeCode := range []string{"B1", "B2"} {
				if err := ctx.Err(); err != nil {
					return nil, err
				}

				params := url.Values{}
				params.Set("cortarNo", regionCode)
				params.Set("realEstateType", typeCode)
				params.Set("tradeType", tradeCode)

				res, err := n.client.Get(ctx, n.baseURL+"/articles", params, stats)
				if err != nil {
					return nil, err
				}
				if res == nil {
					continue
				}

				var payload struct {
					Success     bool             `json:"success"`
					ArticleList []map[string]any `json:"articleList"`
				}
				if err := json.Unmarshal(res.Body, &payload); err != nil {
					n.logger.Warn("naver article payload is not valid json",
						zap.String("region_code", regionCode), zap.Error(err))
					continue
				}
				if !payload.Success {
					n.logger.Warn("naver article request unsuccessful",
						zap.String("region_code", regionCode),
						zap.String("real_estate_type", typeCode),
						zap.String("trade_type", tradeCode))
					continue
				}

				result.RawCount += len(payload.ArticleList)
				for _, article := range payload.ArticleList {
					sampler.observe(article)
					result.Listings = append(result.Listings, n.parseArticle(article))
				}

				n.logger.Info("naver articles fetched",
					zap.String("region_code", regionCode),
					zap.String("real_estate_type", typeCode),
					zap.String("trade_type", tradeCode),
					zap.Int("articles", len(payload.ArticleList)))
			}
		}
	}

	result.KeySamples = sampler.samples
	result.Scope = domain.DeactivationScope{
		Source:        domain.SourceNaver,
		PropertyTypes: propertyTypes,
		RentTypes:     []string{domain.RentJeonse, domain.RentMonthly},
	}
	return result, nil
}

// parseArticle maps one article. Articles with a blank articleNo survive to
// this point and are dropped by the schema guard before persistence.
func (n *Naver) parseArticle(article map[string]any) domain.Listing {
	floor, totalFloors := parseFloorInfo(toString(article["floorInfo"]))

	propertyType := domain.PropertyApt
	if mapped, ok := naverTypeCodes[toString(article["realEstateType"])]; ok {
		propertyType = mapped
	}
	rentType := domain.RentJeonse
	if mapped, ok := naverTradeCodes[toString(article["tradeType"])]; ok {
		rentType = mapped
	}

	return domain.Listing{
		Source:        domain.SourceNaver,
		SourceID:      strings.TrimSpace(toString(article["articleNo"])),
		PropertyType:  propertyType,
		RentType:      rentType,
		Deposit:       toInt(article["price1"]),
		MonthlyRent:   toInt(article["price2"]),
		Address:       toString(article["address"]),
		Dong:          toString(article["dong"]),
		DetailAddress: toString(article["detailAddress"]),
		AreaM2:        toFloat(article["area1"]),
		Floor:         floor,
		TotalFloors:   totalFloors,
		Description:   toString(article["description"]),
		Latitude:      toFloat(article["lat"]),
		Longitude:     toFloat(article["lng"]),
	}
}

// parseFloorInfo splits the "floor/total" form, e.g. "5/12". Anything else
// yields zero values.
func parseFloorInfo(info string) (int, int) {
	parts := strings.Split(info, "/")
	if len(parts) != 2 {
		return 0, 0
	}
	floor, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0
	}
	total, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return floor, 0
	}
	return floor, total
}

func naverTypeCodesFor(propertyTypes []string) []string {
	if len(propertyTypes) == 0 {
		return []string{"APT", "VILLA", "OPST", "ONEROOM"}
	}
	codes := make([]string, 0, len(propertyTypes))
	for _, pt := range propertyTypes {
		if code, ok := naverCodeForType[pt]; ok {
			codes = append(codes, code)
		}
	}
	if len(codes) == 0 {
		return []string{"APT", "VILLA", "OPST", "ONEROOM"}
	}
	return codes
}
