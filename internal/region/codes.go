// Package region holds the legal district code table used to translate
// 5-digit MOLIT region codes into searchable district names. The table covers
// the Seoul districts the crawlers currently target; codes come from the
// public RegionalCode API.
package region

import "strings"

// District is one row of the regional code table.
type District struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Sido string `json:"sido"`
}

const seoul = "서울특별시"

var districts = []District{
	{Code: "11110", Name: "종로구", Sido: seoul},
	{Code: "11140", Name: "중구", Sido: seoul},
	{Code: "11170", Name: "용산구", Sido: seoul},
	{Code: "11200", Name: "성동구", Sido: seoul},
	{Code: "11215", Name: "광진구", Sido: seoul},
	{Code: "11230", Name: "동대문구", Sido: seoul},
	{Code: "11260", Name: "중랑구", Sido: seoul},
	{Code: "11290", Name: "성북구", Sido: seoul},
	{Code: "11305", Name: "강북구", Sido: seoul},
	{Code: "11320", Name: "도봉구", Sido: seoul},
	{Code: "11350", Name: "노원구", Sido: seoul},
	{Code: "11380", Name: "은평구", Sido: seoul},
	{Code: "11410", Name: "서대문구", Sido: seoul},
	{Code: "11440", Name: "마포구", Sido: seoul},
	{Code: "11470", Name: "양천구", Sido: seoul},
	{Code: "11500", Name: "강서구", Sido: seoul},
	{Code: "11530", Name: "구로구", Sido: seoul},
	{Code: "11545", Name: "금천구", Sido: seoul},
	{Code: "11560", Name: "영등포구", Sido: seoul},
	{Code: "11590", Name: "동작구", Sido: seoul},
	{Code: "11620", Name: "관악구", Sido: seoul},
	{Code: "11650", Name: "서초구", Sido: seoul},
	{Code: "11680", Name: "강남구", Sido: seoul},
	{Code: "11710", Name: "송파구", Sido: seoul},
	{Code: "11740", Name: "강동구", Sido: seoul},
}

var byCode = func() map[string]District {
	m := make(map[string]District, len(districts))
	for _, d := range districts {
		m[d.Code] = d
	}
	return m
}()

// ByCode looks up a district by its 5-digit code.
func ByCode(code string) (District, bool) {
	d, ok := byCode[code]
	return d, ok
}

// DistrictNames translates region codes to district names. Unknown codes are
// skipped so a partially stale configuration still yields a usable crawl
// scope.
func DistrictNames(codes []string) []string {
	names := make([]string, 0, len(codes))
	for _, code := range codes {
		if d, ok := byCode[code]; ok {
			names = append(names, d.Name)
		}
	}
	return names
}

// All returns the full table in stable code order.
func All() []District {
	out := make([]District, len(districts))
	copy(out, districts)
	return out
}

// Search returns districts whose code, name, or full name contains the query.
// An empty query matches everything. Limit <= 0 means no limit.
func Search(query string, limit int) []District {
	q := strings.TrimSpace(query)
	var out []District
	for _, d := range districts {
		if q == "" || strings.Contains(d.Code, q) || strings.Contains(d.Name, q) ||
			strings.Contains(d.Sido+" "+d.Name, q) {
			out = append(out, d)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}
