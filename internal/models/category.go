package models

import (
	"fmt"
	"strings"
)

// Category identifies a vendor service category that takes part in an RFQ auction.
type Category string

const (
	CategoryRideMatching   Category = "ride_matching_service"
	CategoryLocation       Category = "location_service"
	CategoryNotification   Category = "notification_service"
	CategoryTripManagement Category = "trip_management_service"
)

// Categories is the fixed, ordered category set. Lookup adapters, the broadcaster and
// bid validation all iterate this slice; nothing else enumerates categories.
var Categories = []Category{
	CategoryRideMatching,
	CategoryLocation,
	CategoryNotification,
	CategoryTripManagement,
}

var categoryAliases = map[string]Category{
	"matching":        CategoryRideMatching,
	"ride_matching":   CategoryRideMatching,
	"location":        CategoryLocation,
	"notification":    CategoryNotification,
	"management":      CategoryTripManagement,
	"trip_management": CategoryTripManagement,
}

// ParseCategory resolves a full category name or one of its short aliases.
func ParseCategory(s string) (Category, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, c := range Categories {
		if string(c) == key {
			return c, nil
		}
	}
	if c, ok := categoryAliases[key]; ok {
		return c, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// EndpointsKey is the contract row attribute holding the comma-separated endpoint list.
func (c Category) EndpointsKey() string {
	return string(c) + "_endpoints"
}

// ContractValueKey is the contract row attribute holding the contract value.
func (c Category) ContractValueKey() string {
	return string(c) + "_contract_value"
}

// Index returns the position of c in Categories, or -1.
func (c Category) Index() int {
	for i, known := range Categories {
		if known == c {
			return i
		}
	}
	return -1
}

func (c Category) String() string {
	return string(c)
}
